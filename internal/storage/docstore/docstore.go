// Package docstore defines a JSON document store: named collections of
// documents addressed by id, with field equality queries, a single-field
// sort and an atomic conditional counter.
package docstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned by PutIfVersion when the stored version
	// differs from the expected one.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrConditionFailed is returned by Increment when the result would be
	// negative.
	ErrConditionFailed = errors.New("condition failed")
)

// UnavailableError wraps a failure to reach the backing store.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("document store %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable marks the error as a store outage.
func (e *UnavailableError) Unavailable() bool { return true }

// Document is a stored JSON object.
type Document struct {
	ID      string
	Data    []byte
	Version int64
}

// Filter matches documents whose top-level Field equals Value. Values are
// compared as text.
type Filter struct {
	Field string
	Value string
}

// Query selects documents of one collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	// Limit caps the result; zero means no cap.
	Limit int
}

// Store is a JSON document store.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Put creates or replaces a document and returns its new version.
	Put(ctx context.Context, collection, id string, data []byte) (int64, error)
	// PutIfVersion writes only if the stored version equals base. A zero base
	// creates the document and fails if it exists.
	PutIfVersion(ctx context.Context, collection, id string, data []byte, base int64) (int64, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Increment atomically adds delta to an integer field and returns the new
	// value. It fails with ErrConditionFailed instead of going below zero.
	Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error)
	Ping(ctx context.Context) error
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateField rejects field names that are not plain identifiers.
func ValidateField(name string) error {
	if !fieldName.MatchString(name) {
		return errors.Errorf("invalid field name %q", name)
	}
	return nil
}

// Validate checks every field name of q.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
	}
	if q.OrderBy != "" {
		if err := ValidateField(q.OrderBy); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return errors.Errorf("negative limit %d", q.Limit)
	}
	return nil
}
