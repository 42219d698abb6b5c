package repository

import (
	"context"
	"fmt"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/jmoiron/sqlx"
)

// ManifestRepository stores carrier manifests
type ManifestRepository struct {
	db *database.DB
}

// NewManifestRepository creates a new manifest repository
func NewManifestRepository(db *database.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Manifest returns the entries of label, or cascade.ErrManifestNotFound
func (r *ManifestRepository) Manifest(ctx context.Context, label string) ([]domain.ManifestEntry, error) {
	var entries []domain.ManifestEntry
	query := `
		SELECT gtin, unit_count
		FROM carrier_manifests
		WHERE label = $1
		ORDER BY gtin
	`
	if err := r.db.SelectContext(ctx, &entries, query, label); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", cascade.ErrManifestNotFound, label)
	}
	return entries, nil
}

// Replace stores entries as the full manifest of label
func (r *ManifestRepository) Replace(ctx context.Context, label string, entries []domain.ManifestEntry) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM carrier_manifests WHERE label = $1`, label); err != nil {
			return err
		}
		for _, e := range entries {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO carrier_manifests (label, gtin, unit_count) VALUES ($1, $2, $3)`,
				label, e.GTIN, e.Count,
			)
			if err != nil {
				if appErr := database.MapPQError(err); appErr != nil {
					return appErr
				}
				return err
			}
		}
		return nil
	})
}
