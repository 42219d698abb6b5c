package repository

import (
	"context"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/google/uuid"
)

// DeltaRepository is the durable, idempotent sink for counter deltas
type DeltaRepository struct {
	db *database.DB
}

// NewDeltaRepository creates a new delta repository
func NewDeltaRepository(db *database.DB) *DeltaRepository {
	return &DeltaRepository{db: db}
}

// Record inserts d unless a delta with the same key exists. applied is
// false for a repeat.
func (r *DeltaRepository) Record(ctx context.Context, d domain.Delta) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO fulfillment_deltas (
			id, idempotency_key, scan_id, document_id, line_item_id, kind,
			identity, units, carrier_label, operator, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		d.ID, d.Key, d.ScanID, d.DocumentID, nullable(d.LineItemID), d.Kind,
		d.Identity, d.Units, d.Label, d.Operator, d.RecordedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return false, appErr
		}
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListByDocument returns the recorded deltas of a document in order
func (r *DeltaRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Delta, error) {
	var deltas []domain.Delta
	query := `
		SELECT id, idempotency_key, scan_id, document_id,
			COALESCE(line_item_id::text, '') AS line_item_id, kind, identity, units,
			carrier_label, operator, recorded_at
		FROM fulfillment_deltas
		WHERE document_id = $1
		ORDER BY seq
	`
	if err := r.db.SelectContext(ctx, &deltas, query, documentID); err != nil {
		return nil, err
	}
	return deltas, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
