package domain

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete Chargeflow configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" env:"CHARGEFLOW_TIER"`

	// Engine settings for batch and harness runs
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" env:"CHARGEFLOW_HOST"`
	Port         int    `json:"port" env:"CHARGEFLOW_PORT"`
	ReadTimeout  int    `json:"readTimeout" env:"CHARGEFLOW_READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" env:"CHARGEFLOW_WRITE_TIMEOUT"` // seconds

	// APIRoot prefixes every REST route.
	APIRoot string `json:"apiRoot" env:"CHARGEFLOW_API_ROOT"`

	// CORSOrigins limits browser origins; empty allows any.
	CORSOrigins []string `json:"corsOrigins" env:"CHARGEFLOW_CORS_ORIGINS" envSeparator:","`

	// RateLimit is requests per second allowed per client address; zero
	// disables limiting. RateBurst is the bucket size.
	RateLimit float64 `json:"rateLimit" env:"CHARGEFLOW_RATE_LIMIT"`
	RateBurst int     `json:"rateBurst" env:"CHARGEFLOW_RATE_BURST"`
}

// EngineConfig bounds batch and test-harness execution.
type EngineConfig struct {
	// BatchConcurrency is the number of parallel item evaluations per batch.
	BatchConcurrency int `json:"batchConcurrency" env:"CHARGEFLOW_BATCH_CONCURRENCY"`

	// MaxBatchSize rejects larger bulk requests.
	MaxBatchSize int `json:"maxBatchSize" env:"CHARGEFLOW_MAX_BATCH_SIZE"`

	// BatchTimeout and HarnessTimeout cap a single call; zero disables the cap.
	BatchTimeout   time.Duration `json:"batchTimeout" env:"CHARGEFLOW_BATCH_TIMEOUT"`
	HarnessTimeout time.Duration `json:"harnessTimeout" env:"CHARGEFLOW_HARNESS_TIMEOUT"`

	// ResyncSchedule is a cron spec for reloading the active rules from the
	// store, covering events a node missed. "off" or empty disables it.
	ResyncSchedule string `json:"resyncSchedule" env:"CHARGEFLOW_RESYNC_SCHEDULE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" env:"CHARGEFLOW_LOG_LEVEL"`   // debug, info, warn, error
	Format string `json:"format" env:"CHARGEFLOW_LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"CHARGEFLOW_TRACING_ENABLED"`
	ServiceName string `json:"serviceName" env:"CHARGEFLOW_SERVICE_NAME"`

	// Endpoint is the OTLP/HTTP collector URL. Spans are only exported
	// when tracing is enabled and an endpoint is set.
	Endpoint   string  `json:"endpoint" env:"CHARGEFLOW_OTEL_ENDPOINT"`
	SampleRate float64 `json:"sampleRate" env:"CHARGEFLOW_OTEL_SAMPLE_RATE"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			APIRoot:      "/charge-mgmt/api",
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			BatchConcurrency: 8,
			MaxBatchSize:     5000,
			BatchTimeout:     30 * time.Second,
			HarnessTimeout:   30 * time.Second,
			ResyncSchedule:   "@every 5m",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./chargeflow.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			CustomerTTL:  10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "chargeflow",
			SampleRate:  1,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "chargeflow",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		CustomerTTL:    10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Server.RateLimit = 200
	cfg.Server.RateBurst = 400
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "http://localhost:4318"
	return cfg
}

// LoadConfig picks the tier defaults and applies CHARGEFLOW_* environment
// overrides on top of them.
func LoadConfig(tier string) (*Config, error) {
	cfg := DefaultConfig()
	if Tier(tier) == TierPro {
		cfg = ProConfig()
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Engine.BatchConcurrency <= 0 {
		cfg.Engine.BatchConcurrency = 1
	}
	return cfg, nil
}
