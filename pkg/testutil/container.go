// Package testutil holds the fulfillment test kit: a shared Postgres
// container with the schema applied, sqlmock and broker fakes, HTTP
// helpers and document fixtures built around real GS1 sample codes.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresImage = "postgres:15-alpine"

	// postgresImageEnv lets CI pin the image to the production major version
	postgresImageEnv = "DISPATCHRX_TEST_POSTGRES_IMAGE"
)

// fulfillmentTables are emptied by Reset, children first.
// schema_migrations is kept so the schema is not re-applied.
var fulfillmentTables = []string{
	"notification_outcomes",
	"fulfillment_deltas",
	"carrier_manifests",
	"fulfillment_line_items",
	"fulfillment_documents",
}

// PostgresContainer is a disposable Postgres with its connection string
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// startPostgres runs a throwaway Postgres and waits until it accepts
// connections. The image logs readiness twice: once for the init run and
// once for the real server.
func startPostgres(ctx context.Context) (*PostgresContainer, error) {
	image := os.Getenv(postgresImageEnv)
	if image == "" {
		image = defaultPostgresImage
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase("dispatchrx_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", image, err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}

// truncate empties every fulfillment table and restarts delta sequences
func truncate(ctx context.Context, db *sqlx.DB) error {
	stmt := "TRUNCATE " + strings.Join(fulfillmentTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to truncate fulfillment tables: %w", err)
	}
	return nil
}
