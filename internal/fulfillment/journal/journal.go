// Package journal keeps counter deltas in a local SQLite file so that a
// scanning session can run without the fulfillment database and resume
// after a restart.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SchemaSQL is the complete journal schema
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS deltas (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	scan_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	line_item_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL CHECK (kind IN (
		'identity_added', 'identity_removed', 'units_added',
		'units_removed', 'carrier_applied', 'carrier_released'
	)),
	identity TEXT NOT NULL DEFAULT '',
	units INTEGER NOT NULL DEFAULT 0,
	carrier_label TEXT NOT NULL DEFAULT '',
	operator TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deltas_document ON deltas(document_id, seq);
`

// Journal is a delta sink backed by SQLite
type Journal struct {
	db *sqlx.DB
}

// Open opens or creates the journal at path. ":memory:" gives a
// throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// a single connection keeps :memory: journals on one database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the journal
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores d unless a delta with the same key exists. applied is
// false for a repeat; any other constraint violation is an error.
func (j *Journal) Record(ctx context.Context, d domain.Delta) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now().UTC()
	}

	result, err := j.db.ExecContext(ctx, `
		INSERT INTO deltas (
			id, idempotency_key, scan_id, document_id, line_item_id, kind,
			identity, units, carrier_label, operator, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		d.ID, d.Key, d.ScanID, d.DocumentID, d.LineItemID, d.Kind,
		d.Identity, d.Units, d.Label, d.Operator, d.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record delta %s: %w", d.Key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListByDocument returns the deltas of a document in record order
func (j *Journal) ListByDocument(ctx context.Context, documentID string) ([]domain.Delta, error) {
	deltas := []domain.Delta{}
	err := j.db.SelectContext(ctx, &deltas, `
		SELECT id, idempotency_key, scan_id, document_id, line_item_id, kind,
			identity, units, carrier_label, operator, recorded_at
		FROM deltas
		WHERE document_id = ?
		ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deltas: %w", err)
	}
	return deltas, nil
}

// Resume folds the journaled deltas of doc onto its lines
func (j *Journal) Resume(ctx context.Context, doc *domain.Document) error {
	deltas, err := j.ListByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	doc.Fold(deltas)
	return nil
}

// Seen reports whether any delta of scanID was journaled
func (j *Journal) Seen(ctx context.Context, scanID string) (bool, error) {
	var seen bool
	err := j.db.GetContext(ctx, &seen, `SELECT EXISTS (SELECT 1 FROM deltas WHERE scan_id = ?)`, scanID)
	if err != nil {
		return false, fmt.Errorf("failed to look up scan %s: %w", scanID, err)
	}
	return seen, nil
}
