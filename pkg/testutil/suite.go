package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/migrations"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies
// the fulfillment schema.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    suite := testutil.SharedSuite(t)
//	    suite.Reset(t)
//	    // ... run tests against suite.DB
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()
	wrappedDB := database.Wrap(db, log)

	if err := wrappedDB.Migrate(ctx, migrations.Fulfillment()); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

var (
	sharedSuite     *IntegrationSuite
	sharedSuiteOnce sync.Once
	sharedSuiteErr  error
)

// SharedSuite returns the process-wide integration suite, failing the test
// if the container cannot be started
func SharedSuite(t *testing.T) *IntegrationSuite {
	t.Helper()
	sharedSuiteOnce.Do(func() {
		sharedSuite, sharedSuiteErr = NewIntegrationSuite(context.Background())
	})
	if sharedSuiteErr != nil {
		t.Fatalf("failed to create integration suite: %v", sharedSuiteErr)
	}
	return sharedSuite
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = startPostgres(ctx)
		if containerErr != nil {
			return
		}
		globalDB, containerErr = sqlx.ConnectContext(ctx, "postgres", globalContainer.DSN)
	})

	return globalContainer, globalDB, containerErr
}

// Reset truncates all tables so each test starts empty
func (s *IntegrationSuite) Reset(t *testing.T) {
	t.Helper()
	if err := truncate(context.Background(), s.RawDB); err != nil {
		t.Fatalf("failed to reset database: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalDB != nil {
		_ = globalDB.Close()
	}
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}
