package service

import (
	"context"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/events"
)

// DocumentLoader returns a document with its persisted scan state
type DocumentLoader interface {
	LoadDocument(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentStore is the full document persistence used by the service
type DocumentStore interface {
	DocumentLoader
	Create(ctx context.Context, doc *domain.Document) error
	MarkFinalized(ctx context.Context, id string) error
}

// ManifestStore resolves and replaces carrier manifests
type ManifestStore interface {
	cascade.ManifestLookup
	Replace(ctx context.Context, label string, entries []domain.ManifestEntry) error
}

// DeltaSink persists counter deltas. Record is idempotent per Delta.Key
// and reports applied=false for a key it has already stored.
type DeltaSink interface {
	Record(ctx context.Context, d domain.Delta) (applied bool, err error)
}

// Notifier reports the reconciled identities of a document to the regulator
type Notifier interface {
	Notify(ctx context.Context, req domain.NotificationRequest) ([]domain.NotificationOutcome, error)
}

// OutcomeStore keeps regulator verdicts
type OutcomeStore interface {
	SaveOutcomes(ctx context.Context, documentID, requestID string, outcomes []domain.NotificationOutcome) error
	ListOutcomes(ctx context.Context, documentID string) ([]domain.NotificationOutcome, error)
}

// EventPublisher announces scan progress. Implementations must not block
// on broker failures.
type EventPublisher interface {
	PublishScanReconciled(ctx context.Context, scan events.Scan, res domain.Result, e counter.Event)
	PublishCarrierCascaded(ctx context.Context, scan events.Scan, res domain.CascadeResult)
	PublishDocumentCompleted(ctx context.Context, documentID string, agg counter.Aggregate)
}
