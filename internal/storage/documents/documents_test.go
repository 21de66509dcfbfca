package documents

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(docstore.NewMemory())

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	for i, p := range []product.Product{
		{ID: "mug", Name: "Mug", Category: "kitchen", Price: decimal.RequireFromString("12.50"), Stock: 2, Type: product.Physical},
		{ID: "ebook", Name: "E-book", Category: "books", Price: decimal.RequireFromString("7"), Type: product.Digital, DigitalFileURL: "https://cdn.test/e.pdf"},
		{ID: "pan", Name: "Pan", Category: "kitchen", Price: decimal.RequireFromString("30"), Stock: 1, Type: product.Physical},
	} {
		p.CreatedAt = baseTime.Add(time.Duration(i) * time.Hour)
		p.FinalPrice = p.EffectivePrice()
		p.Images = []string{}
		require.NoError(t, repo.Save(ctx, &p))
	}

	got, err := repo.Get(ctx, "mug")
	require.NoError(t, err)
	assert.Equal(t, "Mug", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, got.CreatedAt.Equal(baseTime))

	all, err := repo.List(ctx, product.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pan", "ebook", "mug"}, productIDs(all))

	kitchen, err := repo.List(ctx, product.Filter{Category: "kitchen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pan", "mug"}, productIDs(kitchen))

	digital, err := repo.List(ctx, product.Filter{Type: product.Digital})
	require.NoError(t, err)
	assert.Equal(t, []string{"ebook"}, productIDs(digital))

	left, err := repo.AdjustStock(ctx, "mug", -2)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = repo.AdjustStock(ctx, "mug", -1)
	require.ErrorIs(t, err, product.ErrOutOfStock)

	_, err = repo.AdjustStock(ctx, "missing", 1)
	require.ErrorIs(t, err, product.ErrNotFound)

	got, err = repo.Get(ctx, "mug")
	require.NoError(t, err)
	assert.Zero(t, got.Stock)

	require.NoError(t, repo.Delete(ctx, "mug"))
	_, err = repo.Get(ctx, "mug")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCategoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCategoryRepository(docstore.NewMemory())

	empty, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Save(ctx, &product.Category{ID: "travel", Name: "Travel", Icon: "map"}))
	require.NoError(t, repo.Save(ctx, &product.Category{ID: "books", Name: "Books"}))
	require.NoError(t, repo.Save(ctx, &product.Category{ID: "books", Name: "Books", Icon: "book"}))

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []product.Category{
		{ID: "books", Name: "Books", Icon: "book"},
		{ID: "travel", Name: "Travel", Icon: "map"},
	}, got)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(docstore.NewMemory())

	_, err := repo.Load(ctx, "u1")
	require.ErrorIs(t, err, cart.ErrNotFound)

	c := cart.New("u1", baseTime)
	c.Add(cart.LineItem{ProductID: "A", Name: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10"), ProductType: product.Physical})
	c.Recalculate()
	require.NoError(t, repo.Save(ctx, "u1", c))
	assert.Equal(t, int64(1), c.Version)

	loaded, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, "u1", loaded.OwnerID)
	require.Len(t, loaded.Items, 1)
	assert.True(t, loaded.Total.Equal(decimal.NewFromInt(20)))

	loaded.Items[0].Quantity = 3
	require.NoError(t, repo.Save(ctx, "u1", loaded))

	stale := c.Clone()
	stale.Version = 1
	require.ErrorIs(t, repo.Save(ctx, "u1", stale), cart.ErrConflict)
}

func newOrder(id, userID string, status order.Status, total string, at time.Time) *order.Order {
	return &order.Order{
		ID:      "doc-" + id,
		OrderID: id,
		UserID:  userID,
		Items: []cart.LineItem{
			{ProductID: "A", Name: "Mug", Quantity: 1, UnitPrice: decimal.RequireFromString(total), ProductType: product.Physical},
		},
		Subtotal:      decimal.RequireFromString(total),
		Shipping:      decimal.Zero,
		Tax:           decimal.Zero,
		TotalAmount:   decimal.RequireFromString(total),
		PaymentMethod: order.PaymentCOD,
		Status:        status,
		ShippingInfo:  order.ShippingInfo{FullName: "Ada", Email: "ada@example.com"},
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(docstore.NewMemory())

	o1 := newOrder("o1", "u1", order.StatusPending, "60.00", baseTime)
	o2 := newOrder("o2", "u2", order.StatusDelivered, "45.99", baseTime.Add(time.Minute))
	o3 := newOrder("o3", "u1", order.StatusCancelled, "10.00", baseTime.Add(2*time.Minute))
	for _, o := range []*order.Order{o1, o2, o3} {
		require.NoError(t, repo.Create(ctx, o))
	}
	require.Error(t, repo.Create(ctx, o1))

	got, err := repo.GetByOrderID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "doc-o1", got.ID)
	assert.Equal(t, o1.ShippingInfo, got.ShippingInfo)
	assert.True(t, got.TotalAmount.Equal(o1.TotalAmount))
	assert.True(t, got.CreatedAt.Equal(o1.CreatedAt))
	assert.Equal(t, o1.Items[0].ProductID, got.Items[0].ProductID)

	_, err = repo.GetByOrderID(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)

	mine, err := repo.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"o3", "o1"}, orderIDs(mine))

	all, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"o3", "o2"}, orderIDs(all))

	got.Status = order.StatusProcessing
	require.NoError(t, repo.Update(ctx, got))
	stale, err := repo.GetByOrderID(ctx, "o1")
	require.NoError(t, err)
	stale.Version--
	require.ErrorIs(t, repo.Update(ctx, stale), order.ErrConflict)

	r, err := repo.Revenue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Orders)
	assert.True(t, r.Total.Equal(decimal.RequireFromString("105.99")))
}

func TestClaimRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewClaimRepository(docstore.NewMemory())

	orderID, claimed, err := repo.Claim(ctx, "u1:k")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, orderID)

	orderID, claimed, err = repo.Claim(ctx, "u1:k")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, orderID)

	require.NoError(t, repo.Complete(ctx, "u1:k", "o1"))
	orderID, claimed, err = repo.Claim(ctx, "u1:k")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "o1", orderID)

	require.NoError(t, repo.Release(ctx, "u1:k"))
	_, claimed, err = repo.Claim(ctx, "u1:k")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func productIDs(ps []product.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func orderIDs(orders []order.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.OrderID
	}
	return out
}
