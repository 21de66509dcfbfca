package documents

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

var _ cart.RemoteStore = (*CartRepository)(nil)

// CartRepository implements cart.RemoteStore with one document per
// identity, keyed by user id.
type CartRepository struct {
	store docstore.Store
}

// NewCartRepository returns a CartRepository on store.
func NewCartRepository(store docstore.Store) *CartRepository {
	return &CartRepository{store: store}
}

func (r *CartRepository) Load(ctx context.Context, userID string) (*cart.Cart, error) {
	doc, err := r.store.Get(ctx, CartsCollection, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart of %q", userID)
	}
	var c cart.Cart
	if err := json.Unmarshal(doc.Data, &c); err != nil {
		return nil, errors.Wrapf(err, "decode cart of %q", userID)
	}
	if c.Items == nil {
		c.Items = []cart.LineItem{}
	}
	c.OwnerID = userID
	c.Version = doc.Version
	return &c, nil
}

func (r *CartRepository) Save(ctx context.Context, userID string, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	v, err := r.store.PutIfVersion(ctx, CartsCollection, userID, data, c.Version)
	if err != nil {
		if errors.Is(err, docstore.ErrVersionConflict) {
			return cart.ErrConflict
		}
		return errors.Wrapf(err, "put cart of %q", userID)
	}
	c.Version = v
	return nil
}
