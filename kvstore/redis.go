package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// Redis is a Store on a shared Redis instance, for deployments where the
// settings cache has to be visible across nodes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. ttl of zero means no expiry; the cache
// is invalidated explicitly on tenant updates either way.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string, into any) (bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryInternal, "redis get failed")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "kv decode failed")
	}
	return true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "kv encode failed")
	}
	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "redis set failed")
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "redis del failed")
	}
	return nil
}
