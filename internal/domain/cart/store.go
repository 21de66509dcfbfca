package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/session"
)

// Sentinel errors for cart persistence.
var (
	ErrNotFound = errors.New("cart not found")
	// ErrConflict is returned when a remote save raced with another writer.
	ErrConflict = errors.New("cart was modified concurrently")
	// ErrInvalidQuantity is returned for additions of fewer than one unit.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// LocalStore keeps carts on the client side of the session: the only copy
// for guests and a cache for identities.
type LocalStore interface {
	Load(ctx context.Context, key string) (*Cart, error)
	Save(ctx context.Context, key string, c *Cart) error
	Delete(ctx context.Context, key string) error
}

// RemoteStore is the authoritative cart of each identity.
type RemoteStore interface {
	// Load returns the cart of userID with Version set, or ErrNotFound.
	Load(ctx context.Context, userID string) (*Cart, error)
	// Save writes c if the stored version still equals c.Version and then
	// advances c.Version. A stale version yields ErrConflict.
	Save(ctx context.Context, userID string, c *Cart) error
}

// Notifier observes persisted cart changes.
type Notifier interface {
	CartChanged(ctx context.Context, scope session.Scope, c *Cart)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, scope session.Scope, c *Cart)

// CartChanged calls f.
func (f NotifierFunc) CartChanged(ctx context.Context, scope session.Scope, c *Cart) {
	f(ctx, scope, c)
}

type nopNotifier struct{}

func (nopNotifier) CartChanged(context.Context, session.Scope, *Cart) {}
