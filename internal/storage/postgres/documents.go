package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

var (
	_ docstore.Store        = (*DocumentStore)(nil)
	_ order.RevenueReporter = (*DocumentStore)(nil)
)

// DocumentStore implements docstore.Store on a JSONB table.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore returns a DocumentStore that uses the given pool.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func unavailable(op string, err error) error {
	return &docstore.UnavailableError{Op: op, Err: err}
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	doc := docstore.Document{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT data, version FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&doc.Data, &doc.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return &doc, nil
}

func (s *DocumentStore) Put(ctx context.Context, collection, id string, data []byte) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, version = documents.version + 1, updated_at = now()
		RETURNING version`,
		collection, id, data,
	).Scan(&version)
	if err != nil {
		return 0, unavailable("put", err)
	}
	return version, nil
}

func (s *DocumentStore) PutIfVersion(ctx context.Context, collection, id string, data []byte, base int64) (int64, error) {
	var (
		version int64
		row     pgx.Row
	)
	if base == 0 {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, id) DO NOTHING
			RETURNING version`,
			collection, id, data,
		)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE documents
			SET data = $3, version = version + 1, updated_at = now()
			WHERE collection = $1 AND id = $2 AND version = $4
			RETURNING version`,
			collection, id, data, base,
		)
	}
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, docstore.ErrVersionConflict
		}
		return 0, unavailable("put", err)
	}
	return version, nil
}

// Query translates q into SQL. Field names are bound as parameters of the
// ->> operator, never interpolated.
func (s *DocumentStore) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, data, version FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&sb, ` AND data->>$%d::text = $%d`, len(args)-1, len(args))
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY data->$%d::text %s NULLS LAST, id`, len(args), dir)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		var d docstore.Document
		err := row.Scan(&d.ID, &d.Data, &d.Version)
		return d, err
	})
	if err != nil {
		return nil, unavailable("query", err)
	}
	return docs, nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Increment applies the delta in one conditional UPDATE so concurrent
// decrements cannot take the field below zero.
func (s *DocumentStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := docstore.ValidateField(field); err != nil {
		return 0, err
	}

	var value int64
	err := s.pool.QueryRow(ctx, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>$3::text)::bigint, 0) + $4::bigint)),
		    version = version + 1,
		    updated_at = now()
		WHERE collection = $1 AND id = $2
		  AND COALESCE((data->>$3::text)::bigint, 0) + $4::bigint >= 0
		RETURNING (data->>$3::text)::bigint`,
		collection, id, field, delta,
	).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, unavailable("increment", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists); err != nil {
		return 0, unavailable("increment", err)
	}
	if !exists {
		return 0, docstore.ErrNotFound
	}
	return 0, docstore.ErrConditionFailed
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Revenue sums totalAmount of non-cancelled orders in NUMERIC so no float
// rounding leaks into the report.
func (s *DocumentStore) Revenue(ctx context.Context) (order.Revenue, error) {
	var r order.Revenue
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM((data->>'totalAmount')::numeric), 0)
		FROM documents
		WHERE collection = 'orders' AND data->>'status' <> $1`,
		string(order.StatusCancelled),
	).Scan(&r.Orders, &r.Total)
	if err != nil {
		return order.Revenue{}, unavailable("revenue", err)
	}
	r.Total = r.Total.Round(2)
	return r, nil
}
