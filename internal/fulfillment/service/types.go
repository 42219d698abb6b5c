package service

import (
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
)

// ScanRequest is one scan against an open document
type ScanRequest struct {
	DocumentID string
	// ScanID makes retries idempotent; generated when empty
	ScanID   string
	Barcode  string
	Mode     domain.ScanMode
	Operator string
}

// ScanOutcome is everything the operator sees after a scan.
// Rejection is set when the scan was refused or a cascade was partial;
// Warning is set for an accepted over-scan.
type ScanOutcome struct {
	ScanID    string                `json:"scan_id"`
	Payload   domain.Payload        `json:"payload"`
	Result    *domain.Result        `json:"result,omitempty"`
	Cascade   *domain.CascadeResult `json:"cascade,omitempty"`
	Rejection *domain.Rejection     `json:"rejection,omitempty"`
	Warning   *domain.Rejection     `json:"warning,omitempty"`
	Summary   counter.Aggregate     `json:"summary"`
	Complete  bool                  `json:"complete"`
	Replayed  bool                  `json:"replayed,omitempty"`
}

// Changed reports whether the scan moved any counter
func (o ScanOutcome) Changed() bool {
	if o.Result != nil {
		return true
	}
	return o.Cascade != nil && len(o.Cascade.Applied) > 0
}

func (o ScanOutcome) retryable() bool {
	if o.Rejection != nil && o.Rejection.Reason.Retryable() {
		return true
	}
	if o.Cascade != nil {
		for _, f := range o.Cascade.Failed {
			if f.Reason.Retryable() {
				return true
			}
		}
	}
	return false
}

// Summary is the progress view of an open document
type Summary struct {
	DocumentID string              `json:"document_id"`
	Number     string              `json:"number"`
	Kind       domain.DocumentKind `json:"kind"`
	Finalized  bool                `json:"finalized"`
	Complete   bool                `json:"complete"`
	Aggregate  counter.Aggregate   `json:"aggregate"`
	Lines      []counter.LineView  `json:"lines"`
	Carriers   []string            `json:"carriers"`
}

// FinalizeResult is returned once a document was handed to the notifier
type FinalizeResult struct {
	DocumentID string                       `json:"document_id"`
	RequestID  string                       `json:"request_id"`
	Outcomes   []domain.NotificationOutcome `json:"outcomes"`
}
