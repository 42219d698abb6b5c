package service

import (
	"sync"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/reconcile"
)

// session is the in-memory scanning state of one open document. Every
// scan runs under mu from planning to the last store mutation.
type session struct {
	mu sync.Mutex

	doc      *domain.Document
	index    *index.Index
	store    *counter.Store
	engine   *reconcile.Engine
	resolver *cascade.Resolver

	// outcomes of finished scans by scan ID, for client retries
	seen map[string]ScanOutcome

	// delta keys held by store: folded at load or applied since
	committed map[string]struct{}

	completed bool
	finalized bool
}

func (s *session) remember(scanID string, out ScanOutcome) {
	if out.retryable() {
		return
	}
	s.seen[scanID] = out
}

func newCommitted(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func (s *session) summary() *Summary {
	return &Summary{
		DocumentID: s.doc.ID,
		Number:     s.doc.Number,
		Kind:       s.doc.Kind,
		Finalized:  s.finalized,
		Complete:   s.store.AllComplete(),
		Aggregate:  s.store.Aggregate(),
		Lines:      s.store.Snapshot(),
		Carriers:   s.store.Carriers(),
	}
}
