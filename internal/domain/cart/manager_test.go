package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/domain/session"
)

// --- Mock implementations ---

type mockProducts struct {
	byID map[string]*product.Product
}

func (m *mockProducts) Get(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type mockLocal struct {
	mu      sync.Mutex
	carts   map[string]*Cart
	loadErr error
	saveErr error
	delErr  error
}

func newMockLocal() *mockLocal {
	return &mockLocal{carts: make(map[string]*Cart)}
}

func (m *mockLocal) Load(_ context.Context, key string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	c, ok := m.carts[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c.Clone()
	cp.Version = 0
	return cp, nil
}

func (m *mockLocal) Save(_ context.Context, key string, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.carts[key] = c.Clone()
	return nil
}

func (m *mockLocal) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.carts, key)
	return nil
}

type mockRemote struct {
	mu        sync.Mutex
	carts     map[string]*Cart
	loadErr   error
	saveErr   error
	conflicts int
	saves     int
	honorCtx  bool
}

func newMockRemote() *mockRemote {
	return &mockRemote{carts: make(map[string]*Cart)}
}

func (m *mockRemote) Load(ctx context.Context, userID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *mockRemote) Save(_ context.Context, userID string, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	var current int64
	if stored, ok := m.carts[userID]; ok {
		current = stored.Version
	}
	if c.Version != current {
		return ErrConflict
	}
	c.Version++
	m.carts[userID] = c.Clone()
	m.saves++
	return nil
}

type recordingNotifier struct {
	counts []int
}

func (r *recordingNotifier) CartChanged(_ context.Context, _ session.Scope, c *Cart) {
	r.counts = append(r.counts, c.ItemCount())
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func catalogue() *mockProducts {
	return &mockProducts{byID: map[string]*product.Product{
		"A": {ID: "A", Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5, Type: product.Physical},
		"B": {ID: "B", Name: "Poster", Price: decimal.RequireFromString("20.00"), Discount: 10, Stock: 3, Type: product.Physical},
		"E": {ID: "E", Name: "E-book", Price: decimal.RequireFromString("7.50"), Type: product.Digital, DigitalFileURL: "https://cdn.test/e.pdf"},
	}}
}

type fixture struct {
	local    *mockLocal
	remote   *mockRemote
	notifier *recordingNotifier
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		local:    newMockLocal(),
		remote:   newMockRemote(),
		notifier: &recordingNotifier{},
	}
	m, err := NewManager(catalogue(), f.local, f.remote,
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	f.manager = m
	return f
}

func line(id string, qty int, price string) LineItem {
	return LineItem{
		ProductID:   id,
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
		ProductType: product.Physical,
	}
}

func quantities(c *Cart) map[string]int {
	out := make(map[string]int, len(c.Items))
	for _, item := range c.Items {
		out[item.ProductID] = item.Quantity
	}
	return out
}

func assertTotal(t *testing.T, c *Cart) {
	t.Helper()
	assert.True(t, c.Total.Equal(Subtotal(c.Items).Round(2)), "total %s does not match lines", c.Total)
}

var (
	guest = session.Guest("g1")
	user  = session.User(session.Identity{ID: "u1", Email: "u1@example.com"})
)

// --- Tests ---

func TestManager_Get(t *testing.T) {
	t.Run("missing cart is empty", func(t *testing.T) {
		f := newFixture(t)
		c := f.manager.Get(context.Background(), guest)
		assert.True(t, c.IsEmpty())
		assert.True(t, c.Total.IsZero())
	})

	t.Run("identity prefers remote", func(t *testing.T) {
		f := newFixture(t)
		f.remote.carts["u1"] = &Cart{OwnerID: "u1", Items: []LineItem{line("A", 2, "10")}, Version: 4}
		f.local.carts[user.Key()] = &Cart{Items: []LineItem{line("B", 1, "18")}}

		c := f.manager.Get(context.Background(), user)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
		assert.Equal(t, int64(4), c.Version)
	})

	t.Run("unreachable remote falls back to local", func(t *testing.T) {
		f := newFixture(t)
		f.remote.loadErr = errors.New("connection refused")
		f.local.carts[user.Key()] = &Cart{Items: []LineItem{line("B", 1, "18")}}

		c := f.manager.Get(context.Background(), user)
		assert.Equal(t, map[string]int{"B": 1}, quantities(c))
		assert.Equal(t, "u1", c.OwnerID)
	})

	t.Run("stored total is recomputed", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{
			Items: []LineItem{line("A", 2, "10"), line("B", 0, "18")},
			Total: decimal.RequireFromString("999"),
		}
		f.remote.carts["u1"] = &Cart{
			Items: []LineItem{line("A", 1, "10"), line("E", -1, "7.5")},
			Total: decimal.RequireFromString("999"),
		}

		c := f.manager.Get(context.Background(), guest)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
		assert.Equal(t, "20", c.Total.String())

		c = f.manager.Get(context.Background(), user)
		assert.Equal(t, map[string]int{"A": 1}, quantities(c))
		assert.Equal(t, "10", c.Total.String())
	})

	t.Run("shared read outlives a cancelled caller", func(t *testing.T) {
		f := newFixture(t)
		f.remote.honorCtx = true
		f.remote.carts["u1"] = &Cart{OwnerID: "u1", Items: []LineItem{line("A", 2, "10")}, Version: 1}
		f.local.carts[user.Key()] = &Cart{Items: []LineItem{line("B", 1, "18")}}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := f.manager.Get(ctx, user)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
	})

	t.Run("unreadable stores yield empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.remote.loadErr = errors.New("connection refused")
		f.local.loadErr = errors.New("corrupt")

		c := f.manager.Get(context.Background(), user)
		assert.True(t, c.IsEmpty())
	})
}

func TestManager_AddItem(t *testing.T) {
	t.Run("snapshots product into new line", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.manager.AddItem(context.Background(), guest, "B", 2)
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		item := c.Items[0]
		assert.Equal(t, "Poster", item.Name)
		assert.True(t, item.UnitPrice.Equal(decimal.RequireFromString("18.00")))
		assert.True(t, item.OriginalPrice.Equal(decimal.RequireFromString("20.00")))
		assert.Equal(t, product.PlaceholderImage, item.Image)
		require.NotNil(t, item.MaxStock)
		assert.Equal(t, 3, *item.MaxStock)
		assert.True(t, c.Total.Equal(decimal.RequireFromString("36.00")))
		assert.Equal(t, []int{1}, f.notifier.counts)

		stored, err := f.local.Load(context.Background(), guest.Key())
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"B": 2}, quantities(stored))
	})

	t.Run("sums onto existing line", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 1)
		require.NoError(t, err)
		c, err := f.manager.AddItem(context.Background(), guest, "A", 2)
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"A": 3}, quantities(c))
		assertTotal(t, c)
	})

	t.Run("insufficient stock leaves cart unchanged", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 1)
		require.NoError(t, err)

		_, err = f.manager.AddItem(context.Background(), guest, "A", 6)
		var stockErr *product.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 6, stockErr.Requested)
		assert.Equal(t, 5, stockErr.Available)

		c := f.manager.Get(context.Background(), guest)
		assert.Equal(t, map[string]int{"A": 1}, quantities(c))
	})

	t.Run("digital product ignores stock", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.manager.AddItem(context.Background(), guest, "E", 10)
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Nil(t, c.Items[0].MaxStock)
		assert.Equal(t, "https://cdn.test/e.pdf", c.Items[0].DigitalFileURL)
	})

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "missing", 1)
		require.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 0)
		require.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("identity writes remote and local cache", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.manager.AddItem(context.Background(), user, "A", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Version)

		assert.Equal(t, map[string]int{"A": 2}, quantities(f.remote.carts["u1"]))
		assert.Equal(t, map[string]int{"A": 2}, quantities(f.local.carts[user.Key()]))
	})

	t.Run("remote failure surfaces and writes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.remote.saveErr = errors.New("unavailable")

		_, err := f.manager.AddItem(context.Background(), user, "A", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save cart")
		assert.Empty(t, f.local.carts)
		assert.Empty(t, f.notifier.counts)
	})

	t.Run("retries version conflict", func(t *testing.T) {
		f := newFixture(t)
		f.remote.conflicts = 2

		c, err := f.manager.AddItem(context.Background(), user, "A", 1)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 1}, quantities(c))
		assert.Equal(t, 1, f.remote.saves)
	})

	t.Run("gives up after bounded retries", func(t *testing.T) {
		f := newFixture(t)
		f.remote.conflicts = defaultRetries + 1

		_, err := f.manager.AddItem(context.Background(), user, "A", 1)
		require.ErrorIs(t, err, ErrConflict)
	})
}

func TestManager_UpdateQuantity(t *testing.T) {
	t.Run("sets quantity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 1)
		require.NoError(t, err)

		c, err := f.manager.UpdateQuantity(context.Background(), guest, "A", 4)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 4}, quantities(c))
		assertTotal(t, c)
	})

	t.Run("zero equals remove", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 1)
		require.NoError(t, err)
		_, err = f.manager.AddItem(context.Background(), guest, "B", 1)
		require.NoError(t, err)

		updated, err := f.manager.UpdateQuantity(context.Background(), guest, "A", 0)
		require.NoError(t, err)

		g := newFixture(t)
		_, err = g.manager.AddItem(context.Background(), guest, "A", 1)
		require.NoError(t, err)
		_, err = g.manager.AddItem(context.Background(), guest, "B", 1)
		require.NoError(t, err)
		removed, err := g.manager.RemoveItem(context.Background(), guest, "A")
		require.NoError(t, err)

		assert.Equal(t, quantities(removed), quantities(updated))
		assert.True(t, removed.Total.Equal(updated.Total))
	})

	t.Run("beyond snapshot stock is refused", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.AddItem(context.Background(), guest, "A", 2)
		require.NoError(t, err)

		_, err = f.manager.UpdateQuantity(context.Background(), guest, "A", 6)
		require.ErrorIs(t, err, product.ErrInsufficientStock)

		c := f.manager.Get(context.Background(), guest)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
	})

	t.Run("absent line is a no-op", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.manager.UpdateQuantity(context.Background(), guest, "A", 3)
		require.NoError(t, err)
		assert.True(t, c.IsEmpty())
		assert.Empty(t, f.local.carts)
	})

	t.Run("legacy line without stock snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("A", 1, "10")}}

		c, err := f.manager.UpdateQuantity(context.Background(), guest, "A", 50)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 50}, quantities(c))
	})
}

func TestManager_RemoveAndClear(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.AddItem(context.Background(), guest, "A", 1)
	require.NoError(t, err)
	_, err = f.manager.AddItem(context.Background(), guest, "B", 2)
	require.NoError(t, err)

	c, err := f.manager.RemoveItem(context.Background(), guest, "missing")
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)

	c, err = f.manager.RemoveItem(context.Background(), guest, "A")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"B": 2}, quantities(c))
	assertTotal(t, c)

	c, err = f.manager.Clear(context.Background(), guest)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total.IsZero())
	assert.Equal(t, []int{1, 2, 1, 0}, f.notifier.counts)
}

func TestManager_MergeOnLogin(t *testing.T) {
	t.Run("sums quantities and deletes guest cart", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("A", 1, "10"), line("B", 3, "18")}}
		f.remote.carts["u1"] = &Cart{OwnerID: "u1", Items: []LineItem{line("A", 2, "10")}, Version: 1}

		c, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"A": 3, "B": 3}, quantities(c))
		assertTotal(t, c)
		assert.True(t, c.Total.Equal(decimal.RequireFromString("84.00")))
		assert.NotContains(t, f.local.carts, guest.Key())
		assert.Equal(t, map[string]int{"A": 3, "B": 3}, quantities(f.remote.carts["u1"]))
	})

	t.Run("empty guest cart leaves identity cart unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{}}
		f.remote.carts["u1"] = &Cart{OwnerID: "u1", Items: []LineItem{line("A", 2, "10")}, Total: decimal.NewFromInt(20), Version: 1}

		c, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
		assert.Zero(t, f.remote.saves)
	})

	t.Run("missing identity cart is treated as empty", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("A", 2, "10")}}

		c, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
		assert.Equal(t, "u1", c.OwnerID)
	})

	t.Run("failed persist keeps guest cart", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("A", 2, "10")}}
		f.remote.saveErr = errors.New("unavailable")

		_, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.Error(t, err)
		assert.Contains(t, f.local.carts, guest.Key())

		f.remote.saveErr = nil
		c, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2}, quantities(c))
		assert.NotContains(t, f.local.carts, guest.Key())
	})

	t.Run("unreachable identity cart aborts merge", func(t *testing.T) {
		f := newFixture(t)
		f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("A", 2, "10")}}
		f.remote.loadErr = errors.New("unavailable")

		_, err := f.manager.MergeOnLogin(context.Background(), *user.Identity, "g1")
		require.Error(t, err)
		assert.Contains(t, f.local.carts, guest.Key())
	})
}

func TestManager_ConcurrentAddsKeepEveryUnit(t *testing.T) {
	f := newFixture(t)
	f.manager.products.(*mockProducts).byID["A"].Stock = 100

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.AddItem(context.Background(), user, "A", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c := f.manager.Get(context.Background(), user)
	assert.Equal(t, map[string]int{"A": 20}, quantities(c))
	assertTotal(t, c)
}

func TestCart_SubtotalMatchesLines(t *testing.T) {
	c := New("", testNow)
	c.Add(line("A", 3, "9.99"))
	c.Add(line("B", 1, "0.01"))
	c.Add(LineItem{ProductID: "C", Quantity: 2, UnitPrice: decimal.RequireFromString("5.5"), MaxStock: intPtr(2)})
	c.Recalculate()
	assert.True(t, c.Total.Equal(decimal.RequireFromString("40.98")), "got %s", c.Total)

	cp := c.Clone()
	*cp.Items[2].MaxStock = 9
	assert.Equal(t, 2, *c.Items[2].MaxStock)
}

func TestManager_TotalFollowsEveryOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.local.carts[guest.Key()] = &Cart{Items: []LineItem{line("B", 1, "18"), line("E", 2, "7.5")}}

	steps := []struct {
		name  string
		run   func() (*Cart, error)
		want  map[string]int
		total string
	}{
		{"add", func() (*Cart, error) { return f.manager.AddItem(ctx, user, "A", 2) }, map[string]int{"A": 2}, "20"},
		{"add digital", func() (*Cart, error) { return f.manager.AddItem(ctx, user, "E", 1) }, map[string]int{"A": 2, "E": 1}, "27.5"},
		{"update", func() (*Cart, error) { return f.manager.UpdateQuantity(ctx, user, "A", 3) }, map[string]int{"A": 3, "E": 1}, "37.5"},
		{"merge", func() (*Cart, error) {
			return f.manager.MergeOnLogin(ctx, *user.Identity, "g1")
		}, map[string]int{"A": 3, "B": 1, "E": 3}, "70.5"},
		{"remove", func() (*Cart, error) { return f.manager.RemoveItem(ctx, user, "E") }, map[string]int{"A": 3, "B": 1}, "48"},
		{"update to zero", func() (*Cart, error) { return f.manager.UpdateQuantity(ctx, user, "A", 0) }, map[string]int{"B": 1}, "18"},
		{"clear", func() (*Cart, error) { return f.manager.Clear(ctx, user) }, map[string]int{}, "0"},
	}
	for _, step := range steps {
		c, err := step.run()
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, quantities(c), step.name)
		assert.Equal(t, step.total, c.Total.String(), step.name)
		assertTotal(t, c)

		stored := f.manager.Get(ctx, user)
		assert.Equal(t, step.want, quantities(stored), step.name)
		assertTotal(t, stored)
	}
}
