package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

const defaultRetries = 3

// errUnchanged short-circuits a mutation that leaves the cart as it was.
var errUnchanged = errors.New("cart unchanged")

// ProductReader looks up catalogue entries for new cart lines.
type ProductReader interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the observer of persisted cart changes.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithRetries bounds how often a conflicting write is retried.
func WithRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.retries = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeterProvider records cart metrics with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meter = mp.Meter("kart/cart") }
}

// Manager keeps the cart of each scope consistent across the local and
// remote stores.
type Manager struct {
	products ProductReader
	local    LocalStore
	remote   RemoteStore
	notifier Notifier
	retries  int
	now      func() time.Time
	meter    metric.Meter

	locks  *keyedMutex
	reads  singleflight.Group
	merged metric.Int64Counter
}

// NewManager creates a cart Manager.
func NewManager(products ProductReader, local LocalStore, remote RemoteStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		products: products,
		local:    local,
		remote:   remote,
		notifier: nopNotifier{},
		retries:  defaultRetries,
		now:      time.Now,
		meter:    noop.NewMeterProvider().Meter("kart/cart"),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	if m.merged, err = m.meter.Int64Counter("kart.cart.merged",
		metric.WithDescription("Guest carts merged into identity carts"),
	); err != nil {
		return nil, errors.Wrap(err, "merged counter")
	}
	return m, nil
}

// Get returns the cart of scope. It never fails: an unreachable remote
// store falls back to the local copy, and a missing cart is empty.
func (m *Manager) Get(ctx context.Context, scope session.Scope) *Cart {
	if scope.Authenticated() {
		// The read is shared by every concurrent caller of the scope, so it
		// must not end with the first caller's request.
		v, err, _ := m.reads.Do(scope.Key(), func() (any, error) {
			return m.remote.Load(context.WithoutCancel(ctx), scope.OwnerID())
		})
		if err == nil {
			c := v.(*Cart).Clone()
			c.Normalize()
			return c
		}
		if errors.Is(err, ErrNotFound) {
			c := m.loadLocal(ctx, scope)
			c.Version = 0
			return c
		}
		zctx.From(ctx).Warn("Remote cart unavailable, using local copy",
			zap.String("user_id", scope.OwnerID()),
			zap.Error(err),
		)
	}
	return m.loadLocal(ctx, scope)
}

// AddItem adds qty units of productID. Physical products are refused when
// qty exceeds the live stock.
func (m *Manager) AddItem(ctx context.Context, scope session.Scope, productID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	p, err := m.products.Get(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if p.IsPhysical() && qty > p.Stock {
		return nil, &product.InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: qty,
			Available: p.Stock,
		}
	}

	return m.mutate(ctx, scope, func(c *Cart) error {
		c.Add(NewLineItem(p, qty))
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line. Zero or less removes
// the line. A physical line cannot exceed the stock seen when it was added.
func (m *Manager) UpdateQuantity(ctx context.Context, scope session.Scope, productID string, qty int) (*Cart, error) {
	if qty <= 0 {
		return m.RemoveItem(ctx, scope, productID)
	}
	return m.mutate(ctx, scope, func(c *Cart) error {
		item := c.Find(productID)
		if item == nil {
			return errUnchanged
		}
		if item.IsPhysical() && item.MaxStock != nil && *item.MaxStock > 0 && qty > *item.MaxStock {
			return &product.InsufficientStockError{
				ProductID: item.ProductID,
				Name:      item.Name,
				Requested: qty,
				Available: *item.MaxStock,
			}
		}
		item.Quantity = qty
		return nil
	})
}

// RemoveItem drops the line for productID. Removing an absent line is a
// no-op.
func (m *Manager) RemoveItem(ctx context.Context, scope session.Scope, productID string) (*Cart, error) {
	return m.mutate(ctx, scope, func(c *Cart) error {
		if !c.Remove(productID) {
			return errUnchanged
		}
		return nil
	})
}

// Clear empties the cart of scope.
func (m *Manager) Clear(ctx context.Context, scope session.Scope) (*Cart, error) {
	return m.mutate(ctx, scope, func(c *Cart) error {
		c.Items = []LineItem{}
		return nil
	})
}

// MergeOnLogin folds the guest cart of guestID into the remote cart of id.
// The guest cart is deleted only after the merged cart is persisted; on
// failure it is kept so the merge can be retried.
func (m *Manager) MergeOnLogin(ctx context.Context, id session.Identity, guestID string) (*Cart, error) {
	guestScope := session.Guest(guestID)
	userScope := session.User(id)
	lg := zctx.From(ctx).With(zap.String("user_id", id.ID))

	unlockGuest := m.locks.Lock(guestScope.Key())
	defer unlockGuest()
	unlockUser := m.locks.Lock(userScope.Key())
	defer unlockUser()

	guest, err := m.local.Load(ctx, guestScope.Key())
	switch {
	case errors.Is(err, ErrNotFound):
		guest = nil
	case err != nil:
		lg.Warn("Read guest cart", zap.Error(err))
		return m.Get(ctx, userScope), nil
	default:
		guest.Normalize()
	}
	if guest == nil || guest.IsEmpty() {
		if guest != nil {
			m.dropGuest(ctx, lg, guestScope)
		}
		return m.Get(ctx, userScope), nil
	}

	for attempt := 0; ; attempt++ {
		merged, err := m.remote.Load(ctx, id.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			merged = New(id.ID, m.now())
		case err != nil:
			return nil, errors.Wrap(err, "load identity cart")
		default:
			merged.Normalize()
		}
		merged.OwnerID = id.ID
		merged.Merge(guest)
		merged.Recalculate()
		merged.UpdatedAt = m.now()

		err = m.persist(ctx, userScope, merged)
		if errors.Is(err, ErrConflict) && attempt < m.retries {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "persist merged cart")
		}

		m.dropGuest(ctx, lg, guestScope)
		m.merged.Add(ctx, 1)
		m.notifier.CartChanged(ctx, userScope, merged)
		return merged.Clone(), nil
	}
}

func (m *Manager) dropGuest(ctx context.Context, lg *zap.Logger, scope session.Scope) {
	if err := m.local.Delete(ctx, scope.Key()); err != nil {
		lg.Error("Delete merged guest cart", zap.String("key", scope.Key()), zap.Error(err))
	}
}

// mutate runs a read-modify-write of the scope's cart under the scope lock,
// retrying on version conflicts.
func (m *Manager) mutate(ctx context.Context, scope session.Scope, fn func(c *Cart) error) (*Cart, error) {
	unlock := m.locks.Lock(scope.Key())
	defer unlock()

	for attempt := 0; ; attempt++ {
		c, err := m.loadForWrite(ctx, scope)
		if err != nil {
			return nil, err
		}
		if err := fn(c); err != nil {
			if errors.Is(err, errUnchanged) {
				return c, nil
			}
			return nil, err
		}
		c.Recalculate()
		c.UpdatedAt = m.now()

		err = m.persist(ctx, scope, c)
		if errors.Is(err, ErrConflict) && attempt < m.retries {
			zctx.From(ctx).Debug("Cart write conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "save cart")
		}
		m.notifier.CartChanged(ctx, scope, c)
		return c.Clone(), nil
	}
}

// loadForWrite reads the authoritative cart without the read fallback: a
// write against a cart that cannot be read would lose lines.
func (m *Manager) loadForWrite(ctx context.Context, scope session.Scope) (*Cart, error) {
	if !scope.Authenticated() {
		return m.loadLocal(ctx, scope), nil
	}
	c, err := m.remote.Load(ctx, scope.OwnerID())
	switch {
	case err == nil:
		c.Normalize()
		return c, nil
	case errors.Is(err, ErrNotFound):
		return New(scope.OwnerID(), m.now()), nil
	default:
		return nil, errors.Wrap(err, "load cart")
	}
}

func (m *Manager) loadLocal(ctx context.Context, scope session.Scope) *Cart {
	c, err := m.local.Load(ctx, scope.Key())
	if err == nil {
		c.OwnerID = scope.OwnerID()
		c.Normalize()
		return c
	}
	if !errors.Is(err, ErrNotFound) {
		zctx.From(ctx).Warn("Local cart unreadable, starting empty",
			zap.String("key", scope.Key()),
			zap.Error(err),
		)
	}
	return New(scope.OwnerID(), m.now())
}

// persist writes the remote copy first for identities; the local copy is
// then only a cache and failing to refresh it is logged.
func (m *Manager) persist(ctx context.Context, scope session.Scope, c *Cart) error {
	if !scope.Authenticated() {
		return m.local.Save(ctx, scope.Key(), c)
	}
	if err := m.remote.Save(ctx, scope.OwnerID(), c); err != nil {
		return err
	}
	if err := m.local.Save(ctx, scope.Key(), c); err != nil {
		zctx.From(ctx).Warn("Refresh local cart cache", zap.String("key", scope.Key()), zap.Error(err))
	}
	return nil
}
