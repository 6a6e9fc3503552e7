package persist

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/l1jgo/loginserver/internal/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps a database/sql handle. For postgres it sits on a pgx pool; for
// sqlite it uses the pure-Go driver.
type DB struct {
	SQL    *sql.DB
	Pool   *pgxpool.Pool // nil for sqlite
	driver string
	log    *zap.Logger
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return openPostgres(ctx, cfg, log)
	case DriverSQLite:
		return openSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{SQL: stdlib.OpenDBFromPool(pool), Pool: pool, driver: DriverPostgres, log: log}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY under concurrent dispatch workers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	return &DB{SQL: db, driver: DriverSQLite, log: log}, nil
}

// Driver returns DriverPostgres or DriverSQLite.
func (db *DB) Driver() string { return db.driver }

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind converts $N placeholders to ?N for sqlite. Queries in this package
// are written once in postgres style.
func (db *DB) rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func (db *DB) Close() {
	db.SQL.Close()
	if db.Pool != nil {
		db.Pool.Close()
	}
}
