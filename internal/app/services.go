package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/auth"
	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/inventory"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
	"github.com/xenking/kart-storefront/internal/handler"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
	"github.com/xenking/kart-storefront/internal/storage/documents"
	"github.com/xenking/kart-storefront/internal/storage/kv"
	"github.com/xenking/kart-storefront/pkg/health"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// Backends are the stores the services run on.
type Backends struct {
	Documents docstore.Store
	Carts     kv.Store
	Media     product.ObjectStore
	// Publisher is optional.
	Publisher order.Publisher
}

// Services are the domain services behind the API.
type Services struct {
	Catalog  *product.Service
	Carts    *cart.Manager
	Checkout *order.Builder
	Orders   *order.Service
	Sessions *auth.JWTProvider
}

// NewServices wires the domain services on b. A document store that can
// aggregate revenue itself serves the revenue report.
func NewServices(cfg *Config, b Backends, mp metric.MeterProvider, tp trace.TracerProvider) (*Services, error) {
	products := documents.NewProductRepository(b.Documents)
	orders := documents.NewOrderRepository(b.Documents)

	var revenue order.RevenueReporter = orders
	if r, ok := b.Documents.(order.RevenueReporter); ok {
		revenue = r
	}

	carts, err := cart.NewManager(products,
		kv.NewCartStore(b.Carts),
		documents.NewCartRepository(b.Documents),
		cart.WithRetries(cfg.Cart.Retries),
		cart.WithMeterProvider(mp),
		cart.WithNotifier(cart.NotifierFunc(logCartChange)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cart manager")
	}

	opts := []order.BuilderOption{
		order.WithClaims(documents.NewClaimRepository(b.Documents)),
		order.WithTelemetry(mp, tp),
	}
	if b.Publisher != nil {
		opts = append(opts, order.WithPublisher(b.Publisher))
	}
	checkout, err := order.NewBuilder(carts, inventory.NewGuard(products), orders, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "order builder")
	}

	sessions, err := auth.NewJWTProvider([]byte(cfg.Session.Secret), cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		return nil, errors.Wrap(err, "session provider")
	}
	sessions.OnIdentityAcquired(func(ctx context.Context, ev session.Acquired) error {
		_, err := carts.MergeOnLogin(ctx, ev.Identity, ev.GuestID)
		return err
	})

	return &Services{
		Catalog: product.NewService(products, b.Media,
			product.WithCategories(documents.NewCategoryRepository(b.Documents)),
		),
		Carts:    carts,
		Checkout: checkout,
		Orders:   order.NewService(orders, revenue),
		Sessions: sessions,
	}, nil
}

func logCartChange(ctx context.Context, scope session.Scope, c *cart.Cart) {
	zctx.From(ctx).Debug("Cart changed",
		zap.String("cart", scope.Key()),
		zap.Int("items", c.ItemCount()),
	)
}

// RouterOptions hold the HTTP surface around the API operations.
type RouterOptions struct {
	Logger *zap.Logger
	Health *health.Health
	// Media serves uploaded images under Config.Media.BaseURL when that is
	// a path on this server.
	Media          http.Handler
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// NewRouter mounts the API, health probes and media on one handler wrapped
// in the middleware chain. The rate limiter's cleanup stops with ctx.
func NewRouter(ctx context.Context, cfg *Config, svc *Services, opts RouterOptions) http.Handler {
	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests())

	if opts.Health != nil {
		router.Get("/livez", opts.Health.LiveEndpoint)
		router.Get("/readyz", opts.Health.ReadyEndpoint)
	}
	if base := strings.TrimRight(cfg.Media.BaseURL, "/"); opts.Media != nil && strings.HasPrefix(base, "/") {
		router.Handle(base+"/*", http.StripPrefix(base, opts.Media))
	}

	api := humachi.New(router, huma.DefaultConfig("Kart Storefront API", "1.0.0"))
	handler.New(handler.Deps{
		Catalog:  svc.Catalog,
		Carts:    svc.Carts,
		Checkout: svc.Checkout,
		Orders:   svc.Orders,
		Sessions: svc.Sessions,
	}).Register(api)

	return httpmiddleware.Wrap(router,
		httpmiddleware.InjectLogger(opts.Logger),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderGuestID, "Idempotency-Key"},
			ExposeHeaders:    []string{handler.HeaderGuestID, httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("kart-api", opts.MeterProvider, opts.TracerProvider),
	)
}
