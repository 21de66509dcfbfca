package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// CartSource reads and empties the cart being checked out.
type CartSource interface {
	Get(ctx context.Context, scope session.Scope) *cart.Cart
	Clear(ctx context.Context, scope session.Scope) (*cart.Cart, error)
}

// StockGuard validates and commits stock for cart lines.
type StockGuard interface {
	ValidateAndReserve(ctx context.Context, items []cart.LineItem) error
	CommitDecrement(ctx context.Context, items []cart.LineItem) error
	Restore(ctx context.Context, items []cart.LineItem) error
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Scope          session.Scope
	Shipping       ShippingInfo
	IdempotencyKey string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTax sets the tax calculator. The default charges no tax.
func WithTax(t TaxCalculator) BuilderOption {
	return func(b *Builder) { b.tax = t }
}

// WithPublisher sets where placed orders are announced.
func WithPublisher(p Publisher) BuilderOption {
	return func(b *Builder) { b.publisher = p }
}

// WithClaims enables idempotency keys.
func WithClaims(c ClaimStore) BuilderOption {
	return func(b *Builder) { b.claims = c }
}

// WithBuilderClock overrides the time source.
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithTelemetry records checkout metrics and spans.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) BuilderOption {
	return func(b *Builder) {
		b.meter = mp.Meter("kart/order")
		b.tracer = tp.Tracer("kart/order")
	}
}

// Builder turns a cart into a persisted order.
type Builder struct {
	carts     CartSource
	stock     StockGuard
	orders    Repository
	claims    ClaimStore
	tax       TaxCalculator
	publisher Publisher
	now       func() time.Time
	meter     metric.Meter
	tracer    trace.Tracer

	placed metric.Int64Counter
	failed metric.Int64Counter
}

// NewBuilder creates an order Builder.
func NewBuilder(carts CartSource, stock StockGuard, orders Repository, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		carts:  carts,
		stock:  stock,
		orders: orders,
		tax:    NoTax{},
		now:    time.Now,
		meter:  noop.NewMeterProvider().Meter("kart/order"),
		tracer: tracenoop.NewTracerProvider().Tracer("kart/order"),
	}
	for _, opt := range opts {
		opt(b)
	}

	var err error
	if b.placed, err = b.meter.Int64Counter("kart.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	if b.failed, err = b.meter.Int64Counter("kart.checkout.failed",
		metric.WithDescription("Checkouts rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	return b, nil
}

// PlaceOrder validates the cart of the request identity against live stock,
// decrements stock, persists a Pending cash-on-delivery order and clears the
// cart. On any failure before persistence no stock stays decremented.
func (b *Builder) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := b.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			b.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(rerr))))
		}
		span.End()
	}()

	if !req.Scope.Authenticated() {
		return nil, session.ErrUnauthenticated
	}
	id := *req.Scope.Identity
	if err := req.Shipping.Validate(); err != nil {
		return nil, err
	}

	key := claimKey(id.ID, req.IdempotencyKey)
	if key != "" && b.claims != nil {
		existing, claimed, err := b.claims.Claim(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "claim checkout")
		}
		if !claimed {
			if existing == "" {
				return nil, ErrCheckoutInProgress
			}
			return b.orders.GetByOrderID(ctx, existing)
		}
		defer func() {
			if rerr != nil {
				if err := b.claims.Release(ctx, key); err != nil {
					zctx.From(ctx).Warn("Release checkout claim", zap.Error(err))
				}
			}
		}()
	}

	c := b.carts.Get(ctx, req.Scope)
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	items := cart.CloneItems(c.Items)

	if err := b.stock.ValidateAndReserve(ctx, items); err != nil {
		return nil, errors.Wrap(err, "validate stock")
	}

	subtotal := cart.Subtotal(items).Round(2)
	shipping := ShippingFor(subtotal)
	tax, err := b.tax.Tax(ctx, subtotal, req.Shipping)
	if err != nil {
		return nil, errors.Wrap(err, "compute tax")
	}
	tax = tax.Round(2)

	now := b.now().UTC().Truncate(time.Second)
	o := &Order{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrderID:        newOrderID(),
		UserID:         id.ID,
		UserEmail:      id.Email,
		UserName:       id.Name,
		Items:          items,
		Subtotal:       subtotal,
		Shipping:       shipping,
		Tax:            tax,
		TotalAmount:    subtotal.Add(shipping).Add(tax).Round(2),
		PaymentMethod:  PaymentCOD,
		Status:         StatusPending,
		ShippingInfo:   req.Shipping,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(attribute.String("order.id", o.OrderID), attribute.Int("order.lines", len(items)))

	if err := b.stock.CommitDecrement(ctx, items); err != nil {
		return nil, errors.Wrap(err, "decrement stock")
	}
	if err := b.orders.Create(ctx, o); err != nil {
		if rbErr := b.stock.Restore(ctx, items); rbErr != nil {
			zctx.From(ctx).Error("Restore stock after failed order write",
				zap.String("order_id", o.OrderID),
				zap.Error(rbErr),
			)
		}
		return nil, errors.Wrap(err, "create order")
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.OrderID))
	if key != "" && b.claims != nil {
		if err := b.claims.Complete(ctx, key, o.OrderID); err != nil {
			lg.Warn("Complete checkout claim", zap.Error(err))
		}
	}
	if _, err := b.carts.Clear(ctx, req.Scope); err != nil {
		lg.Warn("Clear cart after checkout", zap.Error(err))
	}
	if b.publisher != nil {
		if err := b.publisher.OrderPlaced(ctx, o); err != nil {
			lg.Warn("Publish order placed", zap.Error(err))
		}
	}

	b.placed.Add(ctx, 1)
	lg.Info("Order placed",
		zap.String("user_id", o.UserID),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)
	return o, nil
}

// newOrderID returns a 32 character hex reference.
func newOrderID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func claimKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return userID + ":" + key
}

func failureReason(err error) string {
	var validation *ValidationError
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, product.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.As(err, &validation):
		return "validation"
	case errors.Is(err, ErrCheckoutInProgress):
		return "in_progress"
	default:
		return "internal"
	}
}
