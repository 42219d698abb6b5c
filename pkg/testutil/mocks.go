package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// MockDB is a sqlmock-backed Postgres handle for repository unit tests.
// Expectations take literal SQL fragments; they are quoted before matching.
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//	mockDB.ExpectQuery("FROM fulfillment_deltas").WithArgs("doc-1").WillReturnRows(...)
//	repo := repository.NewDeltaRepository(mockDB.Wrapped())
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a mock database for unit testing
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &MockDB{DB: sqlx.NewDb(db, "postgres"), Mock: mock}
}

// Wrapped returns the mock as a *database.DB for repositories
func (m *MockDB) Wrapped() *database.DB {
	return database.Wrap(m.DB, logger.Nop())
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	return m.DB.Close()
}

func (m *MockDB) ExpectQuery(sqlFragment string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(sqlFragment))
}

func (m *MockDB) ExpectExec(sqlFragment string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(sqlFragment))
}

func (m *MockDB) ExpectBegin() *sqlmock.ExpectedBegin { return m.Mock.ExpectBegin() }

func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit { return m.Mock.ExpectCommit() }

func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback { return m.Mock.ExpectRollback() }

// ExpectationsWereMet fails the test when an expectation was not consumed
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates rows for a mocked query result
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// AnyTime matches any time.Time argument
type AnyTime struct{}

func (AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// AnyUUID matches any lowercase UUID string argument
type AnyUUID struct{}

func (AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && uuidPattern.MatchString(s)
}

// PublishedEvent is one message captured by MockPublisher
type PublishedEvent struct {
	Type    string
	Payload interface{}
}

// MockPublisher is an in-memory broker. Err fails every publish; FailNext
// fails only the next n publishes.
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	Err             error
	failNext        int
	failErr         error
}

// NewMockPublisher creates an empty in-memory broker
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{PublishedEvents: []PublishedEvent{}}
}

// FailNext makes the next n publishes return err
func (m *MockPublisher) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext, m.failErr = n, err
}

// Publish records the event unless a failure is configured
func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Type: eventType, Payload: payload})
	return nil
}

// Payloads returns the payloads of eventType in publish order
func (m *MockPublisher) Payloads(eventType string) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interface{}
	for _, e := range m.PublishedEvents {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Count returns how many events of eventType were published
func (m *MockPublisher) Count(eventType string) int {
	return len(m.Payloads(eventType))
}

// Last returns the payload of the most recent event of eventType
func (m *MockPublisher) Last(eventType string) (interface{}, bool) {
	p := m.Payloads(eventType)
	if len(p) == 0 {
		return nil, false
	}
	return p[len(p)-1], true
}

// AssertEventPublished fails the test unless eventType was published
func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	if m.Count(eventType) == 0 {
		t.Errorf("expected event %q to be published, but it wasn't", eventType)
	}
}

// AssertNoEventsPublished fails the test if anything was published
func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) > 0 {
		t.Errorf("expected no events, but got %d: %+v", len(m.PublishedEvents), m.PublishedEvents)
	}
}
