// Package testutil holds the shared test scaffolding of the pharmacy
// service: a PostgreSQL container with migrated tenant schemas, sqlmock
// wrappers, a recording publisher and domain fixtures.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresImage = "postgres:15-alpine"
	imageEnv             = "PHARMACY_TEST_POSTGRES_IMAGE"
)

// tenantsTable mirrors the registry the scheduler walks. In a deployment it
// is owned by the auth service.
const tenantsTable = `
CREATE TABLE IF NOT EXISTS public.tenants (
	id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name                VARCHAR(255) NOT NULL,
	slug                VARCHAR(100) UNIQUE NOT NULL,
	schema_name         VARCHAR(100) UNIQUE NOT NULL,
	subscription_status VARCHAR(50) DEFAULT 'trial',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at          TIMESTAMPTZ
)`

// PostgresContainer is a throwaway PostgreSQL server.
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// NewPostgresContainer starts PostgreSQL and creates public.tenants. The
// image can be overridden with PHARMACY_TEST_POSTGRES_IMAGE.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	image := os.Getenv(imageEnv)
	if image == "" {
		image = defaultPostgresImage
	}

	c, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase("pharmacy_test"),
		postgres.WithUsername("pharmacy"),
		postgres.WithPassword("pharmacy"),
		testcontainers.WithWaitStrategy(
			// The server logs readiness twice: once for the init run, once for real.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres %s: %w", image, err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	return &PostgresContainer{PostgresContainer: c, DSN: dsn}, nil
}

// Connect opens a pool to the container and ensures public.tenants exists.
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to test database: %w", err)
	}
	if _, err := db.ExecContext(ctx, tenantsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create public.tenants: %w", err)
	}
	return db, nil
}
