// Package service owns the scanning sessions of open documents and ties
// the decoder, reconciliation engine, carrier cascade and persistence
// together.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/cascade"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/events"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/reconcile"
	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/google/uuid"
)

// Dependencies wires the service. Deltas, Notifier, Outcomes and Events
// may be nil: scans then stay in memory, finalization reports nothing
// and no events are published.
type Dependencies struct {
	Documents DocumentStore
	Manifests ManifestStore
	Deltas    DeltaSink
	Notifier  Notifier
	Outcomes  OutcomeStore
	Events    EventPublisher
	Decoder   *barcode.Decoder
}

// FulfillmentService handles scanning against open documents
type FulfillmentService struct {
	deps   Dependencies
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(deps Dependencies, log *logger.Logger) *FulfillmentService {
	if deps.Decoder == nil {
		deps.Decoder = barcode.NewDecoder(barcode.DefaultOptions())
	}
	return &FulfillmentService{
		deps:     deps,
		logger:   log.WithComponent("fulfillment"),
		sessions: make(map[string]*session),
	}
}

// OpenDocument loads a document and starts a scanning session. Opening an
// already open document returns its current summary.
func (s *FulfillmentService) OpenDocument(ctx context.Context, documentID string) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[documentID]; ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.summary(), nil
	}

	doc, err := s.deps.Documents.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	idx, err := index.Build(doc.Lines)
	if err != nil {
		return nil, duplicateProduct(doc, err)
	}

	store := counter.NewFromDocument(doc)
	sess := &session{
		doc:       doc,
		index:     idx,
		store:     store,
		engine:    reconcile.New(idx, store),
		resolver:  cascade.NewResolver(idx, store, s.deps.Manifests, s.logger),
		seen:      make(map[string]ScanOutcome),
		committed: newCommitted(doc.CommittedKeys),
		completed: store.AllComplete(),
		finalized: doc.Finalized,
	}
	s.sessions[documentID] = sess

	s.logger.WithDocumentID(documentID).Info().
		Int("lines", idx.Len()).
		Int("carriers", len(doc.AppliedCarriers)).
		Msg("document opened")

	return sess.summary(), nil
}

// CloseDocument discards the session. Persisted deltas are kept.
func (s *FulfillmentService) CloseDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[documentID]; !ok {
		return errors.NotFoundWithKey("session")
	}
	delete(s.sessions, documentID)

	s.logger.WithDocumentID(documentID).Info().Msg("document closed")
	return nil
}

// Decode classifies a barcode without touching any session
func (s *FulfillmentService) Decode(raw string) domain.Payload {
	return s.deps.Decoder.Decode(raw)
}

// Summary returns the progress of an open document
func (s *FulfillmentService) Summary(ctx context.Context, documentID string) (*Summary, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.summary(), nil
}

// Scan decodes and reconciles one scan. Refused scans are reported in the
// outcome; the error is reserved for session problems.
func (s *FulfillmentService) Scan(ctx context.Context, req ScanRequest) (*ScanOutcome, error) {
	sess, err := s.session(req.DocumentID)
	if err != nil {
		return nil, err
	}
	if req.ScanID == "" {
		req.ScanID = uuid.New().String()
	}
	if req.Mode == "" {
		req.Mode = domain.ModeAdd
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.finalized {
		return nil, errors.Conflict("document is finalized and read-only").
			WithKey("errors.document_finalized", map[string]string{"document": req.DocumentID})
	}
	if prev, ok := sess.seen[req.ScanID]; ok {
		prev.Replayed = true
		return &prev, nil
	}

	log := logger.FromContext(ctx, s.logger).WithScan(req.DocumentID, req.ScanID, req.Operator)
	out := ScanOutcome{
		ScanID:  req.ScanID,
		Payload: s.deps.Decoder.Decode(req.Barcode),
	}

	if out.Payload.Kind == domain.PayloadCarrier {
		s.scanCarrier(ctx, sess, req, &out)
	} else {
		s.scanLine(ctx, sess, req, &out)
	}

	out.Summary = sess.store.Aggregate()
	out.Complete = sess.store.AllComplete()
	sess.remember(req.ScanID, out)

	if out.Rejection != nil {
		log.Info().
			Str("scan_id", req.ScanID).
			Str("reason", string(out.Rejection.Reason)).
			Str("line_item_id", out.Rejection.LineItemID).
			Msg(out.Rejection.Message)
	}

	if out.Changed() && out.Complete && !sess.completed {
		sess.completed = true
		log.Info().Int("total_scanned", out.Summary.TotalScanned).Msg("document complete")
		s.publisher().PublishDocumentCompleted(ctx, req.DocumentID, out.Summary)
	}

	return &out, nil
}

func (s *FulfillmentService) scanLine(ctx context.Context, sess *session, req ScanRequest, out *ScanOutcome) {
	res, ev, rej := sess.engine.Plan(out.Payload, req.Mode)
	if rej != nil {
		out.Rejection = rej
		return
	}

	if !ev.IsZero() {
		fresh, err := s.record(ctx, sess, req, ev)
		if err != nil {
			s.logger.Error().Err(err).
				Str("document_id", req.DocumentID).
				Str("line_item_id", res.LineItemID).
				Msg("failed to record scan")
			out.Rejection = domain.Reject(domain.ReasonPersistFailed, "%v", err).OnLine(res.LineItemID)
			return
		}

		if fresh {
			if err := sess.store.Apply(ev); err != nil {
				out.Rejection = domain.Reject(domain.ReasonPersistFailed, "%v", err).OnLine(res.LineItemID)
				return
			}
		} else {
			out.Replayed = true
			res.NewScanned = sess.store.Scanned(res.LineItemID)
			res.Exceeded = res.NewScanned > res.Expected
		}
	}

	out.Result = &res
	out.Warning = sess.engine.Warning(res)

	if !ev.IsZero() && !out.Replayed {
		s.publisher().PublishScanReconciled(ctx, scanOf(req), res, ev)
	}
}

func (s *FulfillmentService) scanCarrier(ctx context.Context, sess *session, req ScanRequest, out *ScanOutcome) {
	commit := func(ctx context.Context, ev counter.Event) error {
		fresh, err := s.record(ctx, sess, req, ev)
		if err != nil {
			return err
		}
		if !fresh {
			return cascade.ErrAlreadyCommitted
		}
		return nil
	}

	res, rej := sess.resolver.ApplyCarrier(ctx, out.Payload.Label, req.Mode, commit)
	if rej != nil {
		out.Rejection = rej
		return
	}

	out.Cascade = &res
	out.Rejection = res.Err()
	s.publisher().PublishCarrierCascaded(ctx, scanOf(req), res)
}

// record persists ev as a delta keyed by the scan and reports whether the
// store still has to apply it. A key the sink already holds is fresh
// unless the store holds it too: an earlier attempt may have committed
// without being acknowledged. Without a sink every event is fresh.
func (s *FulfillmentService) record(ctx context.Context, sess *session, req ScanRequest, ev counter.Event) (bool, error) {
	if s.deps.Deltas == nil {
		return true, nil
	}
	kind := ev.DeltaKind()
	key := domain.DeltaKey(req.ScanID, ev.LineItemID, kind)
	applied, err := s.deps.Deltas.Record(ctx, domain.Delta{
		ID:         uuid.New().String(),
		Key:        key,
		ScanID:     req.ScanID,
		DocumentID: req.DocumentID,
		LineItemID: ev.LineItemID,
		Kind:       kind,
		Identity:   ev.Identity,
		Units:      ev.Units,
		Label:      ev.Label,
		Operator:   req.Operator,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}
	if _, held := sess.committed[key]; held && !applied {
		return false, nil
	}
	if !applied {
		s.logger.Warn().
			Str("document_id", req.DocumentID).
			Str("delta_key", key).
			Msg("delta was committed by an unacknowledged attempt, applying")
	}
	sess.committed[key] = struct{}{}
	return true, nil
}

// Finalize hands the identities of a complete document to the notifier
// and makes the document read-only
func (s *FulfillmentService) Finalize(ctx context.Context, documentID string) (*FinalizeResult, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.finalized {
		return nil, errors.Conflict("document is already finalized").
			WithKey("errors.document_finalized", map[string]string{"document": documentID})
	}
	if !sess.store.AllComplete() {
		agg := sess.store.Aggregate()
		return nil, errors.Conflict(fmt.Sprintf("document is not complete: %d of %d units remaining",
			agg.TotalRemaining, agg.TotalExpected)).
			WithKey("errors.document_incomplete", map[string]string{
				"remaining": strconv.Itoa(agg.TotalRemaining),
				"expected":  strconv.Itoa(agg.TotalExpected),
			})
	}

	req := domain.NotificationRequest{
		RequestID:  uuid.New().String(),
		DocumentID: documentID,
	}
	for _, line := range sess.index.Lines() {
		if !line.TrackingMode.Identified() {
			continue
		}
		ids := sess.store.Identities(line.ID)
		if len(ids) == 0 {
			continue
		}
		req.Lines = append(req.Lines, domain.NotificationLine{
			LineItemID:   line.ID,
			GTIN:         line.GTIN,
			TrackingMode: line.TrackingMode,
			Identities:   ids,
		})
	}

	result := &FinalizeResult{
		DocumentID: documentID,
		RequestID:  req.RequestID,
		Outcomes:   []domain.NotificationOutcome{},
	}

	if s.deps.Notifier != nil && req.Count() > 0 {
		outcomes, err := s.deps.Notifier.Notify(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "NOTIFICATION_FAILED", "regulatory notification could not be requested", http.StatusBadGateway).
				WithKey("errors.notification_failed", nil)
		}
		result.Outcomes = outcomes

		if s.deps.Outcomes != nil {
			if err := s.deps.Outcomes.SaveOutcomes(ctx, documentID, req.RequestID, outcomes); err != nil {
				s.logger.Error().Err(err).Str("document_id", documentID).Msg("failed to store queued notification outcomes")
			}
		}
	}

	if err := s.deps.Documents.MarkFinalized(ctx, documentID); err != nil {
		return nil, err
	}
	sess.finalized = true

	s.logger.WithDocumentID(documentID).Info().
		Str("request_id", req.RequestID).
		Int("identities", req.Count()).
		Msg("document finalized")

	return result, nil
}

// RecordNotificationOutcomes stores the regulator's verdicts. They are
// metadata only and never change counters.
func (s *FulfillmentService) RecordNotificationOutcomes(ctx context.Context, documentID, requestID string, outcomes []domain.NotificationOutcome) error {
	if s.deps.Outcomes == nil {
		return nil
	}
	if err := s.deps.Outcomes.SaveOutcomes(ctx, documentID, requestID, outcomes); err != nil {
		return fmt.Errorf("failed to save notification outcomes: %w", err)
	}

	rejected := 0
	for _, o := range outcomes {
		if o.Status == domain.NotificationRejected {
			rejected++
		}
	}
	ev := s.logger.Info()
	if rejected > 0 {
		ev = s.logger.Warn()
	}
	ev.Str("document_id", documentID).
		Str("request_id", requestID).
		Int("outcomes", len(outcomes)).
		Int("rejected", rejected).
		Msg("notification outcomes recorded")
	return nil
}

// NotificationOutcomes lists the latest verdict per identity of a document
func (s *FulfillmentService) NotificationOutcomes(ctx context.Context, documentID string) ([]domain.NotificationOutcome, error) {
	if s.deps.Outcomes == nil {
		return []domain.NotificationOutcome{}, nil
	}
	return s.deps.Outcomes.ListOutcomes(ctx, documentID)
}

// ImportDocument validates and stores a new document
func (s *FulfillmentService) ImportDocument(ctx context.Context, doc *domain.Document) error {
	details := make(map[string]string)
	for i, line := range doc.Lines {
		if !line.TrackingMode.Valid() {
			details[fmt.Sprintf("lines[%d].tracking_mode", i)] = "must be one of: serialized, device_tracked, simple"
		}
		if line.ExpectedQuantity < 0 {
			details[fmt.Sprintf("lines[%d].expected_quantity", i)] = "must not be negative"
		}
		if line.TrackingMode.Identified() && line.GTIN == "" {
			details[fmt.Sprintf("lines[%d].gtin", i)] = "is required for serialized lines"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	if _, err := index.Build(doc.Lines); err != nil {
		return duplicateProduct(doc, err)
	}

	if err := s.deps.Documents.Create(ctx, doc); err != nil {
		return err
	}

	s.logger.Info().Str("document_id", doc.ID).Int("lines", len(doc.Lines)).Msg("document imported")
	return nil
}

// ReplaceManifest stores the full contents of a carrier label
func (s *FulfillmentService) ReplaceManifest(ctx context.Context, label string, entries []domain.ManifestEntry) error {
	if p := s.deps.Decoder.Decode(label); p.Kind != domain.PayloadCarrier {
		return errors.Validation(map[string]string{"label": "is not a carrier label"})
	}

	seen := make(map[string]struct{}, len(entries))
	normalized := make([]domain.ManifestEntry, 0, len(entries))
	for i, e := range entries {
		if e.Count <= 0 {
			return errors.Validation(map[string]string{fmt.Sprintf("entries[%d].count", i): "must be positive"})
		}
		gtin := barcode.NormalizeGTIN(e.GTIN)
		if _, dup := seen[gtin]; dup {
			return errors.Validation(map[string]string{fmt.Sprintf("entries[%d].gtin", i): "is listed twice"})
		}
		seen[gtin] = struct{}{}
		normalized = append(normalized, domain.ManifestEntry{GTIN: gtin, Count: e.Count})
	}

	return s.deps.Manifests.Replace(ctx, label, normalized)
}

func (s *FulfillmentService) session(documentID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[documentID]
	if !ok {
		return nil, errors.NotFoundWithKey("session")
	}
	return sess, nil
}

func (s *FulfillmentService) publisher() EventPublisher {
	if s.deps.Events == nil {
		return nopPublisher{}
	}
	return s.deps.Events
}

func scanOf(req ScanRequest) events.Scan {
	return events.Scan{
		ID:         req.ScanID,
		DocumentID: req.DocumentID,
		Operator:   req.Operator,
		Mode:       req.Mode,
	}
}

func duplicateProduct(doc *domain.Document, err error) error {
	var dup *index.DuplicateError
	if !stderrors.As(err, &dup) {
		return err
	}
	return errors.NewWithKey("DUPLICATE_PRODUCT", "errors.duplicate_product", http.StatusConflict,
		map[string]string{"document": doc.Number, "code": dup.Key})
}

type nopPublisher struct{}

func (nopPublisher) PublishScanReconciled(context.Context, events.Scan, domain.Result, counter.Event) {
}

func (nopPublisher) PublishCarrierCascaded(context.Context, events.Scan, domain.CascadeResult) {
}

func (nopPublisher) PublishDocumentCompleted(context.Context, string, counter.Aggregate) {
}
