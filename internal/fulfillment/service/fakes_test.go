package service_test

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
)

type fakeDocuments struct {
	docs      map[string]*domain.Document
	finalized map[string]bool
}

func newFakeDocuments(docs ...*domain.Document) *fakeDocuments {
	f := &fakeDocuments{docs: make(map[string]*domain.Document), finalized: make(map[string]bool)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocuments) LoadDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.NotFoundWithKey("document")
	}
	cp := *doc
	cp.Lines = append([]domain.LineItem(nil), doc.Lines...)
	cp.Finalized = f.finalized[id]
	return &cp, nil
}

func (f *fakeDocuments) Create(ctx context.Context, doc *domain.Document) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocuments) MarkFinalized(ctx context.Context, id string) error {
	f.finalized[id] = true
	return nil
}

type fakeManifests struct {
	entries map[string][]domain.ManifestEntry
}

func (f *fakeManifests) Manifest(ctx context.Context, label string) ([]domain.ManifestEntry, error) {
	e, ok := f.entries[label]
	if !ok {
		return nil, cascade.ErrManifestNotFound
	}
	return e, nil
}

func (f *fakeManifests) Replace(ctx context.Context, label string, entries []domain.ManifestEntry) error {
	if f.entries == nil {
		f.entries = make(map[string][]domain.ManifestEntry)
	}
	f.entries[label] = entries
	return nil
}

// fakeSink stores deltas by key. failOn makes Record fail for one delta
// kind. lostAcks makes the next Record calls store the delta and still
// return err, as a commit whose reply never arrives.
type fakeSink struct {
	mu       sync.Mutex
	byKey    map[string]domain.Delta
	order    []domain.Delta
	failOn   domain.DeltaKind
	err      error
	lostAcks int
}

func newFakeSink() *fakeSink {
	return &fakeSink{byKey: make(map[string]domain.Delta)}
}

func (f *fakeSink) Record(ctx context.Context, d domain.Delta) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && (f.failOn == "" || f.failOn == d.Kind) {
		return false, f.err
	}
	if _, ok := f.byKey[d.Key]; ok {
		return false, nil
	}
	f.byKey[d.Key] = d
	f.order = append(f.order, d)
	if f.lostAcks > 0 {
		f.lostAcks--
		return false, stderrors.New("i/o timeout")
	}
	return true, nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fakeNotifier struct {
	requests []domain.NotificationRequest
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, req domain.NotificationRequest) ([]domain.NotificationOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	var out []domain.NotificationOutcome
	for _, l := range req.Lines {
		for _, id := range l.Identities {
			out = append(out, domain.NotificationOutcome{LineItemID: l.LineItemID, Identity: id, Status: domain.NotificationQueued})
		}
	}
	return out, nil
}

type fakeOutcomes struct {
	saved map[string][]domain.NotificationOutcome
}

func (f *fakeOutcomes) SaveOutcomes(ctx context.Context, documentID, requestID string, outcomes []domain.NotificationOutcome) error {
	if f.saved == nil {
		f.saved = make(map[string][]domain.NotificationOutcome)
	}
	f.saved[documentID] = append(f.saved[documentID], outcomes...)
	return nil
}

func (f *fakeOutcomes) ListOutcomes(ctx context.Context, documentID string) ([]domain.NotificationOutcome, error) {
	return f.saved[documentID], nil
}
