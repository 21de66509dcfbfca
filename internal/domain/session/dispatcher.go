package session

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

// Dispatcher fans login transitions out to registered callbacks. Every
// sign-in is dispatched; concurrent deliveries of the same guest and
// identity pair share a single run.
type Dispatcher struct {
	mu        sync.Mutex
	callbacks []AcquiredFunc
	inflight  singleflight.Group
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnIdentityAcquired registers fn.
func (d *Dispatcher) OnIdentityAcquired(fn AcquiredFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

// Dispatch runs every callback for ev in registration order and stops at the
// first failure.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Acquired) error {
	if ev.Identity.ID == "" {
		return ErrUnauthenticated
	}

	d.mu.Lock()
	callbacks := append([]AcquiredFunc(nil), d.callbacks...)
	d.mu.Unlock()

	key := ev.GuestID + "|" + ev.Identity.ID
	_, err, _ := d.inflight.Do(key, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		for _, fn := range callbacks {
			if err := fn(runCtx, ev); err != nil {
				return nil, errors.Wrap(err, "identity acquired")
			}
		}
		return nil, nil
	})
	return err
}
