// Package database holds the PostgreSQL pool, tenant-scoped transactions,
// embedded migrations and the mapping from pq errors to API errors.
package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

const connectTimeout = 10 * time.Second

// DB is the shared pool.
type DB struct {
	*sqlx.DB
	log *logger.Logger
}

// New opens the pool described by cfg and waits for the server to answer.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	pool, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("reach database %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("database pool ready")
	return NewFromSQLX(pool, log), nil
}

// NewFromSQLX wraps an existing handle such as one backed by sqlmock or a
// test container.
func NewFromSQLX(pool *sqlx.DB, log *logger.Logger) *DB {
	return &DB{DB: pool, log: log.WithComponent("database")}
}

// Health pings with a one second budget and reports pool usage.
func (db *DB) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := db.Stats()
	status := map[string]string{
		"status":     "up",
		"open_conns": strconv.Itoa(stats.OpenConnections),
		"in_use":     strconv.Itoa(stats.InUse),
		"wait_count": strconv.FormatInt(stats.WaitCount, 10),
	}
	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}
	return status
}
