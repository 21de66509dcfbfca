package acceptance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/app"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
	"github.com/xenking/kart-storefront/internal/handler"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
	"github.com/xenking/kart-storefront/internal/storage/kv"
)

var shippingInfo = map[string]string{
	"fullName": "Ada Lovelace",
	"email":    "ada@example.com",
	"phone":    "555-0100",
	"address":  "12 Analytical St",
	"city":     "London",
	"state":    "LDN",
	"zip":      "N1",
	"country":  "UK",
}

type storefront struct {
	cancel  context.CancelFunc
	svc     *app.Services
	h       http.Handler
	guestID string

	last   *httptest.ResponseRecorder
	orders []handler.OrderView
}

func (s *storefront) reset() error {
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	cfg := &app.Config{
		Cart:      app.CartConfig{Driver: app.DriverMemory, Retries: 3},
		Session:   app.SessionConfig{Secret: "acceptance-secret-0123456789", Issuer: "kart", TTL: time.Hour},
		RateLimit: app.RateLimitConfig{Max: 10_000, Window: time.Minute},
	}
	mp, tp := metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider()
	svc, err := app.NewServices(cfg, app.Backends{
		Documents: docstore.NewMemory(),
		Carts:     kv.NewMemory(),
	}, mp, tp)
	if err != nil {
		return err
	}
	s.svc = svc
	s.h = app.NewRouter(ctx, cfg, svc, app.RouterOptions{
		Logger:         zap.NewNop(),
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	s.guestID = ""
	s.last = nil
	s.orders = nil
	return nil
}

func (s *storefront) do(method, target string, headers map[string]string, body any) (*httptest.ResponseRecorder, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)
	s.last = w
	return w, nil
}

func (s *storefront) guest() map[string]string {
	if s.guestID == "" {
		return map[string]string{}
	}
	return map[string]string{handler.HeaderGuestID: s.guestID}
}

func (s *storefront) user(name string) (map[string]string, error) {
	token, err := s.svc.Sessions.Issue(session.Identity{
		ID:    name,
		Email: name + "@example.com",
		Name:  name,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func expectStatus(w *httptest.ResponseRecorder, want ...int) error {
	for _, code := range want {
		if w.Code == code {
			return nil
		}
	}
	return fmt.Errorf("expected status %v, got %d: %s", want, w.Code, w.Body.String())
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// --- Given ---

func (s *storefront) theCatalogue(table *godog.Table) error {
	for _, row := range table.Rows[1:] {
		price, err := decimal.NewFromString(row.Cells[2].Value)
		if err != nil {
			return err
		}
		stock, err := strconv.Atoi(row.Cells[3].Value)
		if err != nil {
			return err
		}
		p := &product.Product{
			ID:    row.Cells[0].Value,
			Name:  row.Cells[1].Value,
			Price: price,
			Stock: stock,
			Type:  product.Type(row.Cells[4].Value),
		}
		if p.Type == product.Digital {
			p.DigitalFileURL = "https://downloads.example.com/" + p.ID
		}
		if err := s.svc.Catalog.Save(context.Background(), p); err != nil {
			return errors.Wrapf(err, "seed %s", p.ID)
		}
	}
	return nil
}

func (s *storefront) userHasInTheCart(name string, qty int, productID string) error {
	auth, err := s.user(name)
	if err != nil {
		return err
	}
	w, err := s.do(http.MethodPost, "/api/cart/items", auth, map[string]any{"productId": productID, "quantity": qty})
	if err != nil {
		return err
	}
	return expectStatus(w, http.StatusOK)
}

// --- When ---

func (s *storefront) aGuestAdds(qty int, productID string) error {
	w, err := s.do(http.MethodPost, "/api/cart/items", s.guest(), map[string]any{"productId": productID, "quantity": qty})
	if err != nil {
		return err
	}
	if id := w.Header().Get(handler.HeaderGuestID); id != "" {
		s.guestID = id
	}
	return nil
}

func (s *storefront) userSignsInWithTheGuestCart(name string) error {
	headers, err := s.user(name)
	if err != nil {
		return err
	}
	for k, v := range s.guest() {
		headers[k] = v
	}
	w, err := s.do(http.MethodPost, "/api/session/acquire", headers, nil)
	if err != nil {
		return err
	}
	return expectStatus(w, http.StatusOK)
}

func (s *storefront) userSetsTheQuantity(name, productID string, qty int) error {
	auth, err := s.user(name)
	if err != nil {
		return err
	}
	w, err := s.do(http.MethodPut, "/api/cart/items/"+productID, auth, map[string]any{"quantity": qty})
	if err != nil {
		return err
	}
	return expectStatus(w, http.StatusOK)
}

func (s *storefront) userRemoves(name, productID string) error {
	auth, err := s.user(name)
	if err != nil {
		return err
	}
	w, err := s.do(http.MethodDelete, "/api/cart/items/"+productID, auth, nil)
	if err != nil {
		return err
	}
	return expectStatus(w, http.StatusOK)
}

func (s *storefront) checkout(headers map[string]string) error {
	w, err := s.do(http.MethodPost, "/api/checkout", headers, map[string]any{"shippingInfo": shippingInfo})
	if err != nil {
		return err
	}
	if w.Code < 300 {
		var o handler.OrderView
		if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
			return err
		}
		s.orders = append(s.orders, o)
	}
	return nil
}

func (s *storefront) userChecksOut(name string) error {
	auth, err := s.user(name)
	if err != nil {
		return err
	}
	return s.checkout(auth)
}

func (s *storefront) userChecksOutWithKey(name, key string) error {
	headers, err := s.user(name)
	if err != nil {
		return err
	}
	headers["Idempotency-Key"] = key
	if err := s.checkout(headers); err != nil {
		return err
	}
	return expectStatus(s.last, http.StatusOK, http.StatusCreated)
}

func (s *storefront) theGuestChecksOut() error {
	return s.checkout(s.guest())
}

// --- Then ---

func (s *storefront) cartOf(headers map[string]string) (handler.CartView, error) {
	var c handler.CartView
	w, err := s.do(http.MethodGet, "/api/cart", headers, nil)
	if err != nil {
		return c, err
	}
	if err := expectStatus(w, http.StatusOK); err != nil {
		return c, err
	}
	return c, json.Unmarshal(w.Body.Bytes(), &c)
}

func checkCart(c handler.CartView, items int, subtotal, shipping string) error {
	if c.UnitCount != items {
		return fmt.Errorf("expected %d items, got %d", items, c.UnitCount)
	}
	if got := money(c.Subtotal); got != subtotal {
		return fmt.Errorf("expected subtotal %s, got %s", subtotal, got)
	}
	if got := money(c.Shipping); got != shipping {
		return fmt.Errorf("expected shipping %s, got %s", shipping, got)
	}
	return nil
}

func (s *storefront) theGuestCartHas(items int, subtotal, shipping string) error {
	c, err := s.cartOf(s.guest())
	if err != nil {
		return err
	}
	return checkCart(c, items, subtotal, shipping)
}

func (s *storefront) theCartOfUserHas(name string, items int, subtotal, shipping string) error {
	auth, err := s.user(name)
	if err != nil {
		return err
	}
	c, err := s.cartOf(auth)
	if err != nil {
		return err
	}
	return checkCart(c, items, subtotal, shipping)
}

func (s *storefront) theGuestCartIsEmpty() error {
	return s.theGuestCartHas(0, "0.00", "0.00")
}

func (s *storefront) theCartOfUserIsEmpty(name string) error {
	return s.theCartOfUserHas(name, 0, "0.00", "0.00")
}

func (s *storefront) theRequestFailsWithStatus(code int) error {
	if s.last == nil {
		return errors.New("no request was made")
	}
	return expectStatus(s.last, code)
}

func (s *storefront) lastOrder() (handler.OrderView, error) {
	if err := expectStatus(s.last, http.StatusCreated, http.StatusOK); err != nil {
		return handler.OrderView{}, err
	}
	if len(s.orders) == 0 {
		return handler.OrderView{}, errors.New("no order was placed")
	}
	return s.orders[len(s.orders)-1], nil
}

func (s *storefront) theOrderHas(subtotal, shipping, total string) error {
	o, err := s.lastOrder()
	if err != nil {
		return err
	}
	for _, c := range []struct {
		name      string
		got, want string
	}{
		{"subtotal", money(o.Subtotal), subtotal},
		{"shipping", money(o.Shipping), shipping},
		{"total", money(o.TotalAmount), total},
	} {
		if c.got != c.want {
			return fmt.Errorf("expected %s %s, got %s", c.name, c.want, c.got)
		}
	}
	return nil
}

func (s *storefront) theOrderStatusIs(status string) error {
	o, err := s.lastOrder()
	if err != nil {
		return err
	}
	if o.Status != status {
		return fmt.Errorf("expected status %q, got %q", status, o.Status)
	}
	return nil
}

func (s *storefront) theStockOfIs(productID string, stock int) error {
	w, err := s.do(http.MethodGet, "/api/products/"+productID, nil, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(w, http.StatusOK); err != nil {
		return err
	}
	var p handler.ProductView
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		return err
	}
	if p.Stock != stock {
		return fmt.Errorf("expected stock %d, got %d", stock, p.Stock)
	}
	return nil
}

func (s *storefront) bothCheckoutsReturnedTheSameOrder() error {
	if len(s.orders) != 2 {
		return fmt.Errorf("expected 2 checkout responses, got %d", len(s.orders))
	}
	if s.orders[0].OrderID != s.orders[1].OrderID {
		return fmt.Errorf("expected one order, got %s and %s", s.orders[0].OrderID, s.orders[1].OrderID)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	s := &storefront{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, s.reset()
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.cancel != nil {
			s.cancel()
		}
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the catalogue:$`, s.theCatalogue)
	ctx.Step(`^"([^"]*)" has (\d+) of "([^"]*)" in the cart$`, s.userHasInTheCart)

	// When steps
	ctx.Step(`^a guest adds (\d+) of "([^"]*)"$`, s.aGuestAdds)
	ctx.Step(`^"([^"]*)" signs in with the guest cart$`, s.userSignsInWithTheGuestCart)
	ctx.Step(`^"([^"]*)" sets the quantity of "([^"]*)" to (\d+)$`, s.userSetsTheQuantity)
	ctx.Step(`^"([^"]*)" removes "([^"]*)"$`, s.userRemoves)
	ctx.Step(`^"([^"]*)" checks out$`, s.userChecksOut)
	ctx.Step(`^"([^"]*)" checks out with idempotency key "([^"]*)"$`, s.userChecksOutWithKey)
	ctx.Step(`^the guest checks out$`, s.theGuestChecksOut)

	// Then steps
	ctx.Step(`^the guest cart has (\d+) items with subtotal (\d+\.\d\d) and shipping (\d+\.\d\d)$`, s.theGuestCartHas)
	ctx.Step(`^the cart of "([^"]*)" has (\d+) items with subtotal (\d+\.\d\d) and shipping (\d+\.\d\d)$`, s.theCartOfUserHas)
	ctx.Step(`^the guest cart is empty$`, s.theGuestCartIsEmpty)
	ctx.Step(`^the cart of "([^"]*)" is empty$`, s.theCartOfUserIsEmpty)
	ctx.Step(`^the request fails with status (\d+)$`, s.theRequestFailsWithStatus)
	ctx.Step(`^the order has subtotal (\d+\.\d\d), shipping (\d+\.\d\d) and total (\d+\.\d\d)$`, s.theOrderHas)
	ctx.Step(`^the order status is "([^"]*)"$`, s.theOrderStatusIs)
	ctx.Step(`^the stock of "([^"]*)" is (\d+)$`, s.theStockOfIs)
	ctx.Step(`^both checkouts returned the same order$`, s.bothCheckoutsReturnedTheSameOrder)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
