package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

func setupRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestStores(t *testing.T) {
	redisStore, _ := setupRedis(t, time.Hour)
	stores := map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "k", []byte("v1")))
			require.NoError(t, s.Set(ctx, "k", []byte("v2")))
			v, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), v)

			require.NoError(t, s.Delete(ctx, "k"))
			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Ping(ctx))
		})
	}
}

func TestRedis_PrefixAndTTL(t *testing.T) {
	s, mr := setupRedis(t, time.Hour)
	require.NoError(t, s.Set(context.Background(), "cart_u1", []byte("{}")))

	require.True(t, mr.Exists("kart:cart_u1"))
	ttl := mr.TTL("kart:cart_u1")
	assert.GreaterOrEqual(t, ttl, time.Hour)
	assert.LessOrEqual(t, ttl, time.Hour+12*time.Minute)

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(context.Background(), "cart_u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_Unavailable(t *testing.T) {
	s, mr := setupRedis(t, 0)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "get", unavailable.Op)
}

func TestCartStore_RoundTrip(t *testing.T) {
	redisStore, _ := setupRedis(t, 0)
	for name, s := range map[string]Store{"memory": NewMemory(), "redis": redisStore} {
		t.Run(name, func(t *testing.T) {
			carts := NewCartStore(s)
			ctx := context.Background()

			_, err := carts.Load(ctx, "cart_guest:g1")
			require.ErrorIs(t, err, cart.ErrNotFound)

			stock := 4
			c := cart.New("", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
			c.Add(cart.LineItem{
				ProductID:     "A",
				Name:          "Mug",
				UnitPrice:     decimal.RequireFromString("9.99"),
				OriginalPrice: decimal.RequireFromString("11.10"),
				Image:         product.PlaceholderImage,
				Quantity:      2,
				ProductType:   product.Physical,
				MaxStock:      &stock,
			})
			c.Recalculate()
			c.Version = 7
			require.NoError(t, carts.Save(ctx, "cart_guest:g1", c))

			got, err := carts.Load(ctx, "cart_guest:g1")
			require.NoError(t, err)
			require.Len(t, got.Items, 1)
			assert.Equal(t, "Mug", got.Items[0].Name)
			assert.Equal(t, 2, got.Items[0].Quantity)
			assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.99")))
			require.NotNil(t, got.Items[0].MaxStock)
			assert.Equal(t, 4, *got.Items[0].MaxStock)
			assert.True(t, got.Total.Equal(decimal.RequireFromString("19.98")))
			assert.True(t, got.UpdatedAt.Equal(c.UpdatedAt))
			assert.Zero(t, got.Version)

			require.NoError(t, carts.Delete(ctx, "cart_guest:g1"))
			_, err = carts.Load(ctx, "cart_guest:g1")
			require.ErrorIs(t, err, cart.ErrNotFound)
		})
	}
}

func TestCartStore_CorruptValue(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(context.Background(), "cart_u1", []byte("not json")))
	_, err := NewCartStore(s).Load(context.Background(), "cart_u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrNotFound)
}
