package repository

import (
	"context"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/jmoiron/sqlx"
)

// NotificationRepository keeps regulator verdicts as document metadata
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// SaveOutcomes stores outcomes of one request. Redelivered outcomes are ignored.
func (r *NotificationRepository) SaveOutcomes(ctx context.Context, documentID, requestID string, outcomes []domain.NotificationOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, o := range outcomes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO notification_outcomes (
					request_id, document_id, line_item_id, identity, status, detail
				) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (request_id, identity, status) DO NOTHING`,
				requestID, documentID, nullable(o.LineItemID), o.Identity, o.Status, o.Detail,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListOutcomes returns the latest verdict per identity of a document
func (r *NotificationRepository) ListOutcomes(ctx context.Context, documentID string) ([]domain.NotificationOutcome, error) {
	var outcomes []domain.NotificationOutcome
	query := `
		SELECT DISTINCT ON (identity)
			COALESCE(line_item_id::text, '') AS line_item_id, identity, status, detail
		FROM notification_outcomes
		WHERE document_id = $1
		ORDER BY identity, recorded_at DESC
	`
	if err := r.db.SelectContext(ctx, &outcomes, query, documentID); err != nil {
		return nil, err
	}
	return outcomes, nil
}
