// Package domain holds the value types shared by the fulfillment core:
// decoded payloads, documents and line items, reconciliation results,
// rejections and persistence deltas.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrackingMode is the regulatory tracking regime of a line item
type TrackingMode string

const (
	TrackingSerialized TrackingMode = "serialized"
	TrackingDevice     TrackingMode = "device_tracked"
	TrackingSimple     TrackingMode = "simple"
)

// Valid reports whether m is a known tracking mode
func (m TrackingMode) Valid() bool {
	switch m {
	case TrackingSerialized, TrackingDevice, TrackingSimple:
		return true
	}
	return false
}

// Identified reports whether units of this mode carry a serial identity
func (m TrackingMode) Identified() bool {
	return m == TrackingSerialized || m == TrackingDevice
}

// ScanMode tells whether a scan adds or voids units
type ScanMode string

const (
	ModeAdd    ScanMode = "add"
	ModeRemove ScanMode = "remove"
)

// ParseScanMode parses "add" or "remove"; empty means add
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeAdd):
		return ModeAdd, nil
	case string(ModeRemove):
		return ModeRemove, nil
	}
	return "", fmt.Errorf("unknown scan mode %q", s)
}

// DocumentKind distinguishes outbound invoices from inbound orders
type DocumentKind string

const (
	DocumentInvoice DocumentKind = "invoice"
	DocumentOrder   DocumentKind = "order"
)

// LineItem is one row of a document with its load-time counter state
type LineItem struct {
	ID               string       `json:"id" db:"id"`
	ProductCode      string       `json:"product_code" db:"product_code"`
	GTIN             string       `json:"gtin" db:"gtin"`
	Name             string       `json:"name" db:"name"`
	TrackingMode     TrackingMode `json:"tracking_mode" db:"tracking_mode"`
	ExpectedQuantity int          `json:"expected_quantity" db:"expected_quantity"`

	RecordedIdentities []string `json:"recorded_identities,omitempty" db:"-"`
	ScannedUnits       int      `json:"scanned_units,omitempty" db:"-"`
}

// Document is an invoice or order being fulfilled
type Document struct {
	ID              string       `json:"id" db:"id"`
	Number          string       `json:"number" db:"number"`
	Kind            DocumentKind `json:"kind" db:"kind"`
	Finalized       bool         `json:"finalized" db:"-"`
	Lines           []LineItem   `json:"lines" db:"-"`
	AppliedCarriers []string     `json:"applied_carriers,omitempty" db:"-"`

	// CommittedKeys are the idempotency keys of the deltas folded into
	// the line state
	CommittedKeys []string `json:"-" db:"-"`
}

// ManifestEntry is one row of a carrier manifest
type ManifestEntry struct {
	GTIN  string `json:"gtin" db:"gtin"`
	Count int    `json:"count" db:"unit_count"`
}

// Result describes an accepted single-line scan
type Result struct {
	LineItemID      string `json:"line_item_id"`
	PreviousScanned int    `json:"previous_scanned"`
	NewScanned      int    `json:"new_scanned"`
	Expected        int    `json:"expected"`
	Exceeded        bool   `json:"exceeded"`
}

// Remaining is the clamped number of units still expected after the scan
func (r Result) Remaining() int {
	if r.NewScanned >= r.Expected {
		return 0
	}
	return r.Expected - r.NewScanned
}

// DeltaKind names a persisted counter change
type DeltaKind string

const (
	DeltaIdentityAdded   DeltaKind = "identity_added"
	DeltaIdentityRemoved DeltaKind = "identity_removed"
	DeltaUnitsAdded      DeltaKind = "units_added"
	DeltaUnitsRemoved    DeltaKind = "units_removed"
	DeltaCarrierApplied  DeltaKind = "carrier_applied"
	DeltaCarrierReleased DeltaKind = "carrier_released"
)

// Delta is the idempotent persistence record for one counter change.
// Key identifies the change across retries of the same scan.
type Delta struct {
	ID         string    `json:"id" db:"id"`
	Key        string    `json:"key" db:"idempotency_key"`
	ScanID     string    `json:"scan_id" db:"scan_id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	LineItemID string    `json:"line_item_id,omitempty" db:"line_item_id"`
	Kind       DeltaKind `json:"kind" db:"kind"`
	Identity   string    `json:"identity,omitempty" db:"identity"`
	Units      int       `json:"units,omitempty" db:"units"`
	Label      string    `json:"label,omitempty" db:"carrier_label"`
	Operator   string    `json:"operator,omitempty" db:"operator"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// DeltaKey builds the idempotency key of a delta produced by scanID.
// A cascade produces one delta per line plus the carrier marker.
func DeltaKey(scanID, lineItemID string, kind DeltaKind) string {
	if lineItemID == "" {
		return scanID + ":" + string(kind)
	}
	return scanID + ":" + lineItemID + ":" + string(kind)
}

// NotificationStatus is the regulator's verdict on one identity
type NotificationStatus string

const (
	NotificationQueued   NotificationStatus = "queued"
	NotificationAccepted NotificationStatus = "accepted"
	NotificationRejected NotificationStatus = "rejected"
)

// NotificationRequest lists the reconciled identities of a finalized document
type NotificationRequest struct {
	RequestID  string             `json:"request_id"`
	DocumentID string             `json:"document_id"`
	Lines      []NotificationLine `json:"lines"`
}

// NotificationLine carries the identities of one identified line
type NotificationLine struct {
	LineItemID   string       `json:"line_item_id"`
	GTIN         string       `json:"gtin"`
	TrackingMode TrackingMode `json:"tracking_mode"`
	Identities   []string     `json:"identities"`
}

// Count returns the total number of identities in the request
func (r NotificationRequest) Count() int {
	n := 0
	for _, l := range r.Lines {
		n += len(l.Identities)
	}
	return n
}

// NotificationOutcome is the per-identity verdict, kept as metadata only
type NotificationOutcome struct {
	LineItemID string             `json:"line_item_id" db:"line_item_id"`
	Identity   string             `json:"identity" db:"identity"`
	Status     NotificationStatus `json:"status" db:"status"`
	Detail     string             `json:"detail,omitempty" db:"detail"`
}
