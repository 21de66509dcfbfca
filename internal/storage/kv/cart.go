package kv

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

var _ cart.LocalStore = (*CartStore)(nil)

// CartStore keeps carts as JSON values in a Store.
type CartStore struct {
	kv Store
}

// NewCartStore returns a CartStore on kv.
func NewCartStore(kv Store) *CartStore {
	return &CartStore{kv: kv}
}

func (s *CartStore) Load(ctx context.Context, key string) (*cart.Cart, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "decode cart %s", key)
	}
	if c.Items == nil {
		c.Items = []cart.LineItem{}
	}
	return &c, nil
}

func (s *CartStore) Save(ctx context.Context, key string, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	return s.kv.Set(ctx, key, data)
}

func (s *CartStore) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}
