package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetCustomer retrieves cached customer reference data.
	GetCustomer(ctx context.Context, code string) (*Customer, error)

	// SetCustomer caches customer reference data.
	SetCustomer(ctx context.Context, customer *Customer, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter expires window after its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"CHARGEFLOW_CACHE_TYPE"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `env:"CHARGEFLOW_CACHE_LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `env:"CHARGEFLOW_CACHE_LOCAL_TTL"`

	// CustomerTTL bounds how long customer reference data is served from cache.
	CustomerTTL time.Duration `env:"CHARGEFLOW_CACHE_CUSTOMER_TTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `env:"CHARGEFLOW_REDIS_ADDR"`
	RedisPassword string `env:"CHARGEFLOW_REDIS_PASSWORD"`
	RedisDB       int    `env:"CHARGEFLOW_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"CHARGEFLOW_CACHE_TWO_PHASE"` // If true, check local first, then Redis
}
