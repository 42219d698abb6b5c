package repository

import (
	"context"
	"database/sql"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DocumentStatus values
const (
	StatusOpen      = "open"
	StatusFinalized = "finalized"
)

// DocumentRepository loads documents with the counter state folded from
// their recorded deltas
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

type documentRow struct {
	ID     string `db:"id"`
	Number string `db:"number"`
	Kind   string `db:"kind"`
	Status string `db:"status"`
}

// LoadDocument returns the document, its lines in position order and the
// scanned state accumulated by earlier sessions
func (r *DocumentRepository) LoadDocument(ctx context.Context, id string) (*domain.Document, error) {
	var row documentRow
	query := `SELECT id, number, kind, status FROM fulfillment_documents WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundWithKey("document")
		}
		return nil, err
	}

	var lines []domain.LineItem
	query = `
		SELECT id, product_code, gtin, name, tracking_mode, expected_quantity
		FROM fulfillment_line_items
		WHERE document_id = $1
		ORDER BY position, id
	`
	if err := r.db.SelectContext(ctx, &lines, query, id); err != nil {
		return nil, err
	}

	var deltas []domain.Delta
	query = `
		SELECT kind, COALESCE(line_item_id::text, '') AS line_item_id, identity, units, carrier_label
		FROM fulfillment_deltas
		WHERE document_id = $1
		ORDER BY seq
	`
	if err := r.db.SelectContext(ctx, &deltas, query, id); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:        row.ID,
		Number:    row.Number,
		Kind:      domain.DocumentKind(row.Kind),
		Finalized: row.Status == StatusFinalized,
		Lines:     lines,
	}
	doc.Fold(deltas)
	return doc, nil
}

// Create inserts a document and its lines in one transaction
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Kind == "" {
		doc.Kind = domain.DocumentInvoice
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fulfillment_documents (id, number, kind) VALUES ($1, $2, $3)`,
			doc.ID, doc.Number, doc.Kind,
		)
		if err != nil {
			return err
		}

		for i := range doc.Lines {
			line := &doc.Lines[i]
			if line.ID == "" {
				line.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fulfillment_line_items (
					id, document_id, position, product_code, gtin, name, tracking_mode, expected_quantity
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				line.ID, doc.ID, i, line.ProductCode, line.GTIN, line.Name,
				line.TrackingMode, line.ExpectedQuantity,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// MarkFinalized records that the document's identities were handed to
// the notifier
func (r *DocumentRepository) MarkFinalized(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE fulfillment_documents
		SET status = $2, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		id, StatusFinalized,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFoundWithKey("document")
	}
	return nil
}
