package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

// New builds the cache named by cfg.Type. A redis cache is fronted by a
// local LRU when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value surface every backend provides. Customer
// helpers are written once against it.
type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func customerKey(code string) string {
	return "customer:" + code
}

func loadCustomer(ctx context.Context, s byteStore, code string) (*domain.Customer, error) {
	data, err := s.Get(ctx, customerKey(code))
	if err != nil || data == nil {
		return nil, err
	}
	var c domain.Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cached customer %s: %w", code, err)
	}
	return &c, nil
}

func storeCustomer(ctx context.Context, s byteStore, c *domain.Customer, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode customer %s: %w", c.Code, err)
	}
	return s.Set(ctx, customerKey(c.Code), data, ttl)
}
