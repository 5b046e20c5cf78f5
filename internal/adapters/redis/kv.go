package redisad

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

// KV stores client state as plain Redis strings with no expiry.
type KV struct{ c *redis.Client }

func New(addr, pass string, db int) *KV {
	return &KV{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func (r *KV) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }

func (r *KV) Close() error { return r.c.Close() }

func (r *KV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveKV("redis", "miss")
		return nil, domain.ErrNotFound
	}
	if err != nil {
		observability.ObserveKV("redis", "error")
		return nil, err
	}
	observability.ObserveKV("redis", "hit")
	return v, nil
}

func (r *KV) Put(ctx context.Context, key string, value []byte) error {
	observability.ObserveKV("redis", "put")
	return r.c.Set(ctx, key, value, 0).Err()
}

func (r *KV) Delete(ctx context.Context, key string) error {
	observability.ObserveKV("redis", "del")
	return r.c.Del(ctx, key).Err()
}
