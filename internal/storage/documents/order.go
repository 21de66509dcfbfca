package documents

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ order.RevenueReporter = (*OrderRepository)(nil)
	_ order.ClaimStore      = (*ClaimRepository)(nil)
)

// OrderRepository implements order.Repository. Documents are keyed by the
// storage id; the shopper-facing orderId is a queried field.
type OrderRepository struct {
	store docstore.Store
}

// NewOrderRepository returns an OrderRepository on store.
func NewOrderRepository(store docstore.Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	v, err := r.store.PutIfVersion(ctx, OrdersCollection, o.ID, data, 0)
	if err != nil {
		return errors.Wrapf(err, "creating order %q", o.OrderID)
	}
	o.Version = v
	return nil
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	docs, err := r.store.Query(ctx, OrdersCollection, docstore.Query{
		Filters: []docstore.Filter{{Field: "orderId", Value: orderID}},
		Limit:   1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", orderID)
	}
	if len(docs) == 0 {
		return nil, order.ErrNotFound
	}
	return decodeOrder(&docs[0])
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]order.Order, error) {
	return r.list(ctx, docstore.Query{
		Filters: []docstore.Filter{{Field: "userId", Value: userID}},
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   limit,
	})
}

func (r *OrderRepository) List(ctx context.Context, limit int) ([]order.Order, error) {
	return r.list(ctx, docstore.Query{OrderBy: "createdAt", Desc: true, Limit: limit})
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	v, err := r.store.PutIfVersion(ctx, OrdersCollection, o.ID, data, o.Version)
	if err != nil {
		if errors.Is(err, docstore.ErrVersionConflict) {
			return order.ErrConflict
		}
		return errors.Wrapf(err, "update order %q", o.OrderID)
	}
	o.Version = v
	return nil
}

// Revenue aggregates over every stored order.
func (r *OrderRepository) Revenue(ctx context.Context) (order.Revenue, error) {
	orders, err := r.List(ctx, 0)
	if err != nil {
		return order.Revenue{}, err
	}
	return order.Summarize(orders), nil
}

func (r *OrderRepository) list(ctx context.Context, q docstore.Query) ([]order.Order, error) {
	docs, err := r.store.Query(ctx, OrdersCollection, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders := make([]order.Order, 0, len(docs))
	for i := range docs {
		o, err := decodeOrder(&docs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func decodeOrder(doc *docstore.Document) (*order.Order, error) {
	var o order.Order
	if err := json.Unmarshal(doc.Data, &o); err != nil {
		return nil, errors.Wrapf(err, "decode order %q", doc.ID)
	}
	o.ID = doc.ID
	o.Version = doc.Version
	return &o, nil
}

type claimDoc struct {
	OrderID string `json:"orderId"`
}

// ClaimRepository implements order.ClaimStore with create-only documents.
type ClaimRepository struct {
	store docstore.Store
}

// NewClaimRepository returns a ClaimRepository on store.
func NewClaimRepository(store docstore.Store) *ClaimRepository {
	return &ClaimRepository{store: store}
}

func (r *ClaimRepository) Claim(ctx context.Context, key string) (string, bool, error) {
	_, err := r.store.PutIfVersion(ctx, CheckoutsCollection, key, []byte(`{"orderId":""}`), 0)
	if err == nil {
		return "", true, nil
	}
	if !errors.Is(err, docstore.ErrVersionConflict) {
		return "", false, errors.Wrap(err, "claim checkout key")
	}

	doc, err := r.store.Get(ctx, CheckoutsCollection, key)
	if err != nil {
		return "", false, errors.Wrap(err, "get checkout claim")
	}
	var c claimDoc
	if err := json.Unmarshal(doc.Data, &c); err != nil {
		return "", false, errors.Wrap(err, "decode checkout claim")
	}
	return c.OrderID, false, nil
}

func (r *ClaimRepository) Complete(ctx context.Context, key, orderID string) error {
	data, err := json.Marshal(claimDoc{OrderID: orderID})
	if err != nil {
		return errors.Wrap(err, "encode checkout claim")
	}
	if _, err := r.store.Put(ctx, CheckoutsCollection, key, data); err != nil {
		return errors.Wrap(err, "complete checkout claim")
	}
	return nil
}

func (r *ClaimRepository) Release(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, CheckoutsCollection, key); err != nil {
		return errors.Wrap(err, "release checkout claim")
	}
	return nil
}
