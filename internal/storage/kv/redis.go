package kv

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

const defaultPrefix = "kart:"

// Redis is a Store on a Redis server. Keys expire after the base TTL plus
// up to a fifth of it as jitter, so carts written together do not all
// expire together.
type Redis struct {
	client  *redis.Client
	prefix  string
	baseTTL time.Duration
}

// NewRedis returns a Redis store. A zero ttl keeps keys forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client:  client,
		prefix:  defaultPrefix,
		baseTTL: ttl,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &UnavailableError{Op: "get", Err: err}
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl()).Err(); err != nil {
		return &UnavailableError{Op: "set", Err: err}
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (r *Redis) ttl() time.Duration {
	if r.baseTTL <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(r.baseTTL/5) + 1))
	return r.baseTTL + jitter
}
