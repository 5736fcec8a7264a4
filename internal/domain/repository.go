// Package domain defines the core interfaces and types for Chargeflow.
package domain

import (
	"context"
	"time"
)

// RuleStore persists charge rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	GetRuleByCode(ctx context.Context, code string) (*Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]*Rule, error)

	// ListActiveRules returns ACTIVE rules in creation order.
	ListActiveRules(ctx context.Context) ([]*Rule, error)

	// UpdateRule rewrites the editable fields of a rule, provided its
	// version and status still match.
	UpdateRule(ctx context.Context, rule *Rule, expectedVersion int64, requiredStatus RuleStatus) error

	// UpdateRuleStatus atomically moves a rule from one status to another.
	// It fails without writing if the stored status is not from.
	UpdateRuleStatus(ctx context.Context, id string, from, to RuleStatus) (*Rule, error)

	// DeleteRule hard-deletes a rule only while it has requiredStatus.
	DeleteRule(ctx context.Context, id string, requiredStatus RuleStatus) error

	CountRulesByStatus(ctx context.Context) (map[RuleStatus]int, error)
}

// SettlementStore persists settlement requests.
type SettlementStore interface {
	CreateSettlement(ctx context.Context, s *Settlement) error
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	ListSettlements(ctx context.Context, filter SettlementFilter) ([]*Settlement, error)

	// UpdateSettlementStatus atomically moves a settlement between statuses.
	UpdateSettlementStatus(ctx context.Context, id string, from, to SettlementStatus, reviewedBy, remarks string) (*Settlement, error)
}

// CustomerStore serves customer reference data.
type CustomerStore interface {
	GetCustomer(ctx context.Context, code string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]*Customer, error)
}

// UserStore persists dashboard users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
}

// Repository bundles every store behind one connection.
type Repository interface {
	RuleStore
	SettlementStore
	CustomerStore
	UserStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"CHARGEFLOW_DB_DRIVER"`

	// SQLite specific
	SQLitePath string `env:"CHARGEFLOW_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `env:"CHARGEFLOW_PG_HOST"`
	PostgresPort     int    `env:"CHARGEFLOW_PG_PORT"`
	PostgresUser     string `env:"CHARGEFLOW_PG_USER"`
	PostgresPassword string `env:"CHARGEFLOW_PG_PASSWORD"`
	PostgresDB       string `env:"CHARGEFLOW_PG_DB"`
	PostgresSSLMode  string `env:"CHARGEFLOW_PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `env:"CHARGEFLOW_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"CHARGEFLOW_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"CHARGEFLOW_DB_CONN_MAX_LIFETIME"`
}
