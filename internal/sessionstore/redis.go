package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCommander is the subset of the go-redis client the store uses.
type RedisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisBackend struct {
	client RedisCommander
	key    string
	ttl    time.Duration
}

// NewRedisStore keeps the session under key. A ttl of zero never expires
// the key; staleness is still enforced by Load.
func NewRedisStore(client RedisCommander, key string, ttl time.Duration, opts ...Option) *Store {
	return newStore(&redisBackend{client: client, key: key, ttl: ttl}, opts...)
}

func (b *redisBackend) name() string {
	return "redis"
}

func (b *redisBackend) read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	return data, err
}

func (b *redisBackend) write(ctx context.Context, payload []byte, _ time.Time) error {
	return b.client.Set(ctx, b.key, payload, b.ttl).Err()
}

func (b *redisBackend) remove(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}
