package testutil

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/migrations"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// One container per test binary.
var shared struct {
	once      sync.Once
	container *PostgresContainer
	db        *sqlx.DB
	err       error
}

// IntegrationSuite hands out migrated tenant schemas on a shared container.
type IntegrationSuite struct {
	RawDB    *sqlx.DB
	DB       *database.DB
	Fixtures *FixtureFactory

	mu      sync.Mutex
	tenants map[string]*TestTenant
}

// TestTenant is one tenant schema owned by a test.
type TestTenant struct {
	ID         string
	Slug       string
	SchemaName string
}

// NewIntegrationSuite starts (or reuses) the container. Call it from
// TestMain and skip it under -short.
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	shared.once.Do(func() {
		if shared.container, shared.err = NewPostgresContainer(ctx); shared.err != nil {
			return
		}
		shared.db, shared.err = shared.container.Connect(ctx)
	})
	if shared.err != nil {
		return nil, shared.err
	}
	return &IntegrationSuite{
		RawDB:    shared.db,
		DB:       database.NewFromSQLX(shared.db, logger.Nop()),
		Fixtures: NewFixtureFactory(),
		tenants:  make(map[string]*TestTenant),
	}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SetupTenant creates tenant_<name> with every pharmacy migration applied
// and registers it in public.tenants. It is dropped when t finishes.
func (s *IntegrationSuite) SetupTenant(t *testing.T, ctx context.Context, name string) *TestTenant {
	t.Helper()

	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
	tt := &TestTenant{ID: uuid.NewString(), Slug: strings.ReplaceAll(slug, "_", "-"), SchemaName: "tenant_" + slug}

	if _, err := s.RawDB.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(tt.SchemaName)); err != nil {
		t.Fatalf("create schema %s: %v", tt.SchemaName, err)
	}
	if _, err := s.RawDB.ExecContext(ctx,
		`INSERT INTO public.tenants (id, name, slug, schema_name, subscription_status) VALUES ($1, $2, $3, $4, 'active')`,
		tt.ID, name, tt.Slug, tt.SchemaName); err != nil {
		t.Fatalf("register tenant %s: %v", name, err)
	}
	if _, err := s.DB.Migrate(s.TenantContext(tt), migrations.FS); err != nil {
		t.Fatalf("migrate %s: %v", tt.SchemaName, err)
	}

	s.mu.Lock()
	s.tenants[tt.ID] = tt
	s.mu.Unlock()

	t.Cleanup(func() {
		if err := s.drop(context.Background(), tt); err != nil {
			t.Logf("drop %s: %v", tt.SchemaName, err)
		}
	})
	return tt
}

// TenantContext scopes a background context to tt.
func (s *IntegrationSuite) TenantContext(tt *TestTenant) context.Context {
	return tenant.WithTenantContext(context.Background(), tt.ID, tt.Slug, tt.SchemaName)
}

func (s *IntegrationSuite) drop(ctx context.Context, tt *TestTenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tt.ID]; !ok {
		return nil
	}
	if _, err := s.RawDB.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(tt.SchemaName)+" CASCADE"); err != nil {
		return err
	}
	if _, err := s.RawDB.ExecContext(ctx, `DELETE FROM public.tenants WHERE id = $1`, tt.ID); err != nil {
		return err
	}
	delete(s.tenants, tt.ID)
	return nil
}

// Cleanup drops every tenant the suite still owns.
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*TestTenant, 0, len(s.tenants))
	for _, tt := range s.tenants {
		pending = append(pending, tt)
	}
	s.mu.Unlock()

	var failed []string
	for _, tt := range pending {
		if err := s.drop(ctx, tt); err != nil {
			failed = append(failed, tt.SchemaName)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("drop tenant schemas: %s", strings.Join(failed, ", "))
	}
	return nil
}

// TerminateContainer stops the shared container. Call it last in TestMain.
func TerminateContainer(ctx context.Context) {
	if shared.db != nil {
		_ = shared.db.Close()
	}
	if shared.container != nil {
		_ = shared.container.Terminate(ctx)
	}
}

// TestTenantContext is a tenant context for sqlmock tests.
func TestTenantContext() context.Context {
	return tenant.WithTenantContext(context.Background(), "test-tenant-id", "test", "tenant_test")
}
