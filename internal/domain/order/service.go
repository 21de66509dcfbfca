package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/session"
)

const (
	defaultHistoryLimit = 50
	statusRetries       = 3
)

// ErrForbidden is returned when a non-admin identity calls an admin
// operation.
var ErrForbidden = errors.New("admin role required")

// Service serves order history and admin order management.
type Service struct {
	orders  Repository
	revenue RevenueReporter
	now     func() time.Time
}

// NewService creates an order Service. revenue may be nil, in which case
// the summary is aggregated from the order listing.
func NewService(orders Repository, revenue RevenueReporter) *Service {
	return &Service{
		orders:  orders,
		revenue: revenue,
		now:     time.Now,
	}
}

// ListForUser returns the orders of id, newest first.
func (s *Service) ListForUser(ctx context.Context, id *session.Identity, limit int) ([]Order, error) {
	if id == nil || id.ID == "" {
		return nil, session.ErrUnauthenticated
	}
	orders, err := s.orders.ListByUser(ctx, id.ID, historyLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns the order with orderID. Shoppers only see their own orders;
// admins see any.
func (s *Service) Get(ctx context.Context, id *session.Identity, orderID string) (*Order, error) {
	if id == nil || id.ID == "" {
		return nil, session.ErrUnauthenticated
	}
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != id.ID && !id.IsAdmin() {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context, id *session.Identity, limit int) ([]Order, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	orders, err := s.orders.List(ctx, historyLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// UpdateStatus moves an order to next along the status graph. Only status
// and updatedAt are rewritten.
func (s *Service) UpdateStatus(ctx context.Context, id *session.Identity, orderID string, next Status) (*Order, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		o, err := s.orders.GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status == next {
			return o, nil
		}
		if !o.Status.CanTransitionTo(next) {
			return nil, &IllegalTransitionError{From: o.Status, To: next}
		}
		o.Status = next
		o.UpdatedAt = s.now().UTC().Truncate(time.Second)

		err = s.orders.Update(ctx, o)
		if errors.Is(err, ErrConflict) && attempt < statusRetries {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "update order")
		}
		return o, nil
	}
}

// Revenue sums totalAmount over orders that were not cancelled.
func (s *Service) Revenue(ctx context.Context, id *session.Identity) (Revenue, error) {
	if err := requireAdmin(id); err != nil {
		return Revenue{}, err
	}
	if s.revenue != nil {
		return s.revenue.Revenue(ctx)
	}
	orders, err := s.orders.List(ctx, 0)
	if err != nil {
		return Revenue{}, errors.Wrap(err, "list orders")
	}
	return Summarize(orders), nil
}

// Summarize aggregates revenue over orders.
func Summarize(orders []Order) Revenue {
	var r Revenue
	for _, o := range orders {
		if o.Status == StatusCancelled {
			continue
		}
		r.Orders++
		r.Total = r.Total.Add(o.TotalAmount)
	}
	r.Total = r.Total.Round(2)
	return r
}

func requireAdmin(id *session.Identity) error {
	if id == nil || id.ID == "" {
		return session.ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}
