// Package mongo implements docstore.Store on MongoDB. Each collection maps
// to a Mongo collection of {_id, data, version} records where data is the
// JSON document converted to BSON.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-storefront/internal/storage/docstore"
)

var _ docstore.Store = (*DocumentStore)(nil)

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client.Database(database), nil
}

type record struct {
	ID      string   `bson:"_id"`
	Data    bson.Raw `bson:"data"`
	Version int64    `bson:"version"`
}

// DocumentStore implements docstore.Store backed by MongoDB.
type DocumentStore struct {
	db *mongo.Database
}

// NewDocumentStore returns a DocumentStore on db.
func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{db: db}
}

// Close disconnects the underlying client.
func (s *DocumentStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func unavailable(op string, err error) error {
	return &docstore.UnavailableError{Op: op, Err: err}
}

func toBSON(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, errors.Wrap(err, "convert document to bson")
	}
	return doc, nil
}

func (r *record) document() (*docstore.Document, error) {
	data, err := bson.MarshalExtJSON(r.Data, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "convert document to json")
	}
	return &docstore.Document{ID: r.ID, Data: data, Version: r.Version}, nil
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var r record
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return r.document()
}

func (s *DocumentStore) Put(ctx context.Context, collection, id string, data []byte) (int64, error) {
	doc, err := toBSON(data)
	if err != nil {
		return 0, err
	}
	var r record
	err = s.db.Collection(collection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"data": doc}, "$inc": bson.M{"version": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&r)
	if err != nil {
		return 0, unavailable("put", err)
	}
	return r.Version, nil
}

func (s *DocumentStore) PutIfVersion(ctx context.Context, collection, id string, data []byte, base int64) (int64, error) {
	doc, err := toBSON(data)
	if err != nil {
		return 0, err
	}
	coll := s.db.Collection(collection)

	if base == 0 {
		_, err := coll.InsertOne(ctx, bson.M{"_id": id, "data": doc, "version": int64(1)})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return 0, docstore.ErrVersionConflict
			}
			return 0, unavailable("put", err)
		}
		return 1, nil
	}

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": id, "version": base},
		bson.M{"$set": bson.M{"data": doc}, "$inc": bson.M{"version": int64(1)}},
	)
	if err != nil {
		return 0, unavailable("put", err)
	}
	if res.MatchedCount == 0 {
		return 0, docstore.ErrVersionConflict
	}
	return base + 1, nil
}

// Query filters on data.<field>. Filter values are strings, so they match
// string fields only.
func (s *DocumentStore) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	filter := bson.D{}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: "data." + f.Field, Value: f.Value})
	}
	sort := bson.D{}
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: "data." + q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("query", err)
	}
	var records []record
	if err := cur.All(ctx, &records); err != nil {
		return nil, unavailable("query", err)
	}

	docs := make([]docstore.Document, 0, len(records))
	for i := range records {
		d, err := records[i].document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Increment uses $inc guarded by a $gte filter, so the check and the update
// are one atomic server-side operation.
func (s *DocumentStore) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := docstore.ValidateField(field); err != nil {
		return 0, err
	}
	key := "data." + field
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter[key] = bson.M{"$gte": -delta}
	}

	coll := s.db.Collection(collection)
	var r struct {
		Data bson.M `bson:"data"`
	}
	err := coll.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{key: delta, "version": int64(1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err == nil {
		return asInt64(r.Data[field])
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, unavailable("increment", err)
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, unavailable("increment", err)
	}
	if n == 0 {
		return 0, docstore.ErrNotFound
	}
	return 0, docstore.ErrConditionFailed
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, errors.Errorf("unexpected counter type %T", v)
	}
}
