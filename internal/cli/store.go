package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/journal"
	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
)

// fileDocuments serves one document read from disk. With a journal the
// document resumes from the journaled scans.
type fileDocuments struct {
	doc     domain.Document
	journal *journal.Journal
}

func loadDocumentFile(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	if doc.ID == "" {
		doc.ID = doc.Number
	}
	for i := range doc.Lines {
		if doc.Lines[i].ID == "" {
			doc.Lines[i].ID = fmt.Sprintf("%s/%d", doc.ID, i+1)
		}
	}
	return &doc, nil
}

func (f *fileDocuments) LoadDocument(ctx context.Context, id string) (*domain.Document, error) {
	if id != f.doc.ID {
		return nil, errors.NotFoundWithKey("document")
	}
	doc := f.doc
	doc.Lines = append([]domain.LineItem(nil), f.doc.Lines...)
	if f.journal != nil {
		if err := f.journal.Resume(ctx, &doc); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func (f *fileDocuments) Create(ctx context.Context, doc *domain.Document) error {
	return errors.Conflict("scanctl serves a single document")
}

func (f *fileDocuments) MarkFinalized(ctx context.Context, id string) error {
	f.doc.Finalized = true
	return nil
}

// fileManifests holds carrier manifests keyed by label
type fileManifests map[string][]domain.ManifestEntry

func loadManifestFile(path string) (fileManifests, error) {
	m := fileManifests{}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifests: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifests %s: %w", path, err)
	}
	return m, nil
}

func (m fileManifests) Manifest(ctx context.Context, label string) ([]domain.ManifestEntry, error) {
	entries, ok := m[label]
	if !ok {
		return nil, cascade.ErrManifestNotFound
	}
	return entries, nil
}

func (m fileManifests) Replace(ctx context.Context, label string, entries []domain.ManifestEntry) error {
	m[label] = entries
	return nil
}
