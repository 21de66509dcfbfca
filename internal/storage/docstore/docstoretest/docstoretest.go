// Package docstoretest holds the behaviour every docstore.Store must share.
package docstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

// Run exercises s. Collections are namespaced per run so a shared backend
// can be reused.
func Run(t *testing.T, s docstore.Store) {
	t.Helper()
	ns := "t" + uuid.New().String()[:8] + "_"
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, ns+"things", "nope")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		coll := ns + "things"
		v1, err := s.Put(ctx, coll, "a", []byte(`{"name":"mug","stock":3}`))
		require.NoError(t, err)
		v2, err := s.Put(ctx, coll, "a", []byte(`{"name":"mug","stock":4}`))
		require.NoError(t, err)
		assert.Greater(t, v2, v1)

		doc, err := s.Get(ctx, coll, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", doc.ID)
		assert.Equal(t, v2, doc.Version)
		assert.JSONEq(t, `{"name":"mug","stock":4}`, string(doc.Data))

		require.NoError(t, s.Delete(ctx, coll, "a"))
		require.NoError(t, s.Delete(ctx, coll, "a"))
		_, err = s.Get(ctx, coll, "a")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("PutIfVersion", func(t *testing.T) {
		coll := ns + "carts"
		v, err := s.PutIfVersion(ctx, coll, "u1", []byte(`{"items":[]}`), 0)
		require.NoError(t, err)

		_, err = s.PutIfVersion(ctx, coll, "u1", []byte(`{"items":[]}`), 0)
		require.ErrorIs(t, err, docstore.ErrVersionConflict)

		next, err := s.PutIfVersion(ctx, coll, "u1", []byte(`{"items":[1]}`), v)
		require.NoError(t, err)
		assert.Greater(t, next, v)

		_, err = s.PutIfVersion(ctx, coll, "u1", []byte(`{"items":[2]}`), v)
		require.ErrorIs(t, err, docstore.ErrVersionConflict)

		_, err = s.PutIfVersion(ctx, coll, "missing", []byte(`{}`), 3)
		require.ErrorIs(t, err, docstore.ErrVersionConflict)

		doc, err := s.Get(ctx, coll, "u1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[1]}`, string(doc.Data))
	})

	t.Run("Query", func(t *testing.T) {
		coll := ns + "orders"
		seed := []struct{ id, user, created string }{
			{"o1", "u1", "2026-03-01T10:00:00Z"},
			{"o2", "u2", "2026-03-01T11:00:00Z"},
			{"o3", "u1", "2026-03-01T12:00:00Z"},
			{"o4", "u1", "2026-02-28T09:00:00Z"},
		}
		for i, o := range seed {
			data := fmt.Sprintf(`{"orderId":%q,"userId":%q,"createdAt":%q,"rank":%d}`, o.id, o.user, o.created, 10-i)
			_, err := s.Put(ctx, coll, o.id, []byte(data))
			require.NoError(t, err)
		}

		docs, err := s.Query(ctx, coll, docstore.Query{
			Filters: []docstore.Filter{{Field: "userId", Value: "u1"}},
			OrderBy: "createdAt",
			Desc:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"o3", "o1", "o4"}, ids(docs))

		docs, err = s.Query(ctx, coll, docstore.Query{OrderBy: "rank", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"o4", "o3"}, ids(docs))

		docs, err = s.Query(ctx, coll, docstore.Query{Filters: []docstore.Filter{{Field: "orderId", Value: "o2"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"o2"}, ids(docs))

		docs, err = s.Query(ctx, coll, docstore.Query{Filters: []docstore.Filter{{Field: "userId", Value: "nobody"}}})
		require.NoError(t, err)
		assert.Empty(t, docs)

		_, err = s.Query(ctx, coll, docstore.Query{OrderBy: "created at; drop"})
		require.Error(t, err)
	})

	t.Run("Increment", func(t *testing.T) {
		coll := ns + "products"
		_, err := s.Put(ctx, coll, "p1", []byte(`{"name":"mug","stock":2}`))
		require.NoError(t, err)

		v, err := s.Increment(ctx, coll, "p1", "stock", -2)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)

		_, err = s.Increment(ctx, coll, "p1", "stock", -1)
		require.ErrorIs(t, err, docstore.ErrConditionFailed)

		v, err = s.Increment(ctx, coll, "p1", "stock", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)

		doc, err := s.Get(ctx, coll, "p1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"mug","stock":5}`, string(doc.Data))

		_, err = s.Increment(ctx, coll, "missing", "stock", 1)
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("IncrementIsAtomic", func(t *testing.T) {
		coll := ns + "products"
		_, err := s.Put(ctx, coll, "p2", []byte(`{"stock":5}`))
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for range 12 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Increment(ctx, coll, "p2", "stock", -1); err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 5, success)
	})
}

func ids(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
