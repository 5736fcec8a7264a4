package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

// TwoPhaseCache reads through a node-local LRU (L1) to Redis (L2). Writes
// go to both tiers; L1 entries never outlive l1TTL so peers' updates become
// visible within that bound.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects to Redis and wraps it with a local LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("two-phase cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get serves L1 hits directly. An L2 failure is reported as a miss: the
// repository stays the source of truth, so callers fall back to it.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		slog.Warn("L2 cache read failed, treating as miss", "key", key, "error", err)
		return nil, nil
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes L1 then L2 and reports the L2 error.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1 := c.l1TTL
	if ttl > 0 && ttl < l1 {
		l1 = ttl
	}
	_ = c.local.Set(ctx, key, value, l1)
	return c.remote.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) GetCustomer(ctx context.Context, code string) (*domain.Customer, error) {
	return loadCustomer(ctx, c, code)
}

func (c *TwoPhaseCache) SetCustomer(ctx context.Context, customer *domain.Customer, ttl time.Duration) error {
	return storeCustomer(ctx, c, customer, ttl)
}

// IncrementCounter counts in Redis only, so every node sees one total.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, window)
}

// Ping reports L2 health; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats describes the L1 tier.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
