package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// MockDB is a sqlmock-backed database.DB. Expected SQL is matched as a
// literal substring of the executed statement.
type MockDB struct {
	DB   *database.DB
	Mock sqlmock.Sqlmock
	raw  *sqlx.DB
}

func NewMockDB(t *testing.T) *MockDB {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	raw := sqlx.NewDb(conn, "postgres")
	return &MockDB{DB: database.NewFromSQLX(raw, logger.Nop()), Mock: mock, raw: raw}
}

func (m *MockDB) Close() error { return m.raw.Close() }

func (m *MockDB) ExpectQuery(sql string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(sql))
}

func (m *MockDB) ExpectExec(sql string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(sql))
}

// ExpectTenantBegin expects BEGIN followed by the search_path switch to schema.
func (m *MockDB) ExpectTenantBegin(schema string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL search_path TO "` + schema + `", public`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectTenantExec expects sql to run in its own tenant transaction.
func (m *MockDB) ExpectTenantExec(schema, sql string, result driver.Result) {
	m.ExpectTenantBegin(schema)
	m.Mock.ExpectExec(regexp.QuoteMeta(sql)).WillReturnResult(result)
	m.Mock.ExpectCommit()
}

func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	assert.NoError(t, m.Mock.ExpectationsWereMet())
}

func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// AnyUUID matches a generated UUID argument.
type AnyUUID struct{}

func (AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && uuidPattern.MatchString(s)
}

// PublishedEvent is one recorded Publish call.
type PublishedEvent struct {
	Type    string
	Payload interface{}
}

// MockPublisher records events instead of sending them.
type MockPublisher struct {
	// Err, when set, fails every Publish.
	Err error

	mu        sync.Mutex
	published []PublishedEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.published = append(m.published, PublishedEvent{Type: eventType, Payload: payload})
	return nil
}

// Events returns the recorded events of eventType in publish order.
func (m *MockPublisher) Events(eventType string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedEvent
	for _, e := range m.published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	assert.NotEmpty(t, m.Events(eventType), "expected %s to be published", eventType)
}

func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.published)
}
