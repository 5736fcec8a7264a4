package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

// namespace prefixes every key so chargeflow can share a Redis database.
const namespace = "chargeflow:"

// windowedIncr starts the expiry clock on the first increment only, giving
// fixed windows rather than sliding ones.
var windowedIncr = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache stores entries in Redis. It backs the pro tier and serves as
// L2 of TwoPhaseCache.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache dials addr and fails unless the server answers PING within
// five seconds.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, namespace+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, namespace+key, value, ttl).Err()
}

func (c *RedisCache) GetCustomer(ctx context.Context, code string) (*domain.Customer, error) {
	return loadCustomer(ctx, c, code)
}

func (c *RedisCache) SetCustomer(ctx context.Context, customer *domain.Customer, ttl time.Duration) error {
	return storeCustomer(ctx, c, customer, ttl)
}

// IncrementCounter bumps key atomically; the count resets window after the
// first increment.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return windowedIncr.Run(ctx, c.rdb, []string{namespace + "counter:" + key}, window.Milliseconds()).Int64()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
