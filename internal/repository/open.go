package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/chargeflow/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath = "./chargeflow.db"
	openPingTimeout   = 10 * time.Second
)

// sqlitePragmas apply to every pooled connection. WAL with a busy timeout
// queues concurrent status updates instead of failing them; the sqlite time
// format keeps created_at sortable for settlement range filters.
var sqlitePragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(ON)",
	"_time_format=sqlite",
}

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg domain.RepositoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		return "sqlite", "file:" + path + "?" + strings.Join(sqlitePragmas, "&"), nil

	case "postgres":
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		params := [][2]string{
			{"host", orDefault(cfg.PostgresHost, "localhost")},
			{"port", fmt.Sprint(port)},
			{"user", cfg.PostgresUser},
			{"password", cfg.PostgresPassword},
			{"dbname", orDefault(cfg.PostgresDB, "chargeflow")},
			{"sslmode", orDefault(cfg.PostgresSSLMode, "disable")},
		}
		parts := make([]string, 0, len(params))
		for _, p := range params {
			if p[1] == "" {
				continue
			}
			parts = append(parts, p[0]+"="+quoteConnValue(p[1]))
		}
		return "postgres", strings.Join(parts, " "), nil
	}
	return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
}

// quoteConnValue quotes a libpq key/value connection parameter when needed.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// open connects and pings the configured database.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		dir := filepath.Dir(orDefault(cfg.SQLitePath, defaultSQLitePath))
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return db, nil
}
