package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Fulfillment events
	EventScanReconciled        = "fulfillment.scan.reconciled"
	EventCarrierCascaded       = "fulfillment.carrier.cascaded"
	EventDocumentCompleted     = "fulfillment.document.completed"
	EventNotificationRequested = "fulfillment.notification.requested"

	// Regulatory events (published by the notification gateway)
	EventNotificationCompleted = "regulatory.notification.completed"
)

// Exchange names
const (
	ExchangeFulfillmentEvents = "fulfillment.events"
	ExchangeRegulatoryEvents  = "regulatory.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Fulfillment Events

// ScanReconciledEvent is published for every accepted single-line scan
type ScanReconciledEvent struct {
	ScanID          string `json:"scan_id"`
	DocumentID      string `json:"document_id"`
	LineItemID      string `json:"line_item_id"`
	Mode            string `json:"mode"`
	Identity        string `json:"identity,omitempty"`
	Units           int    `json:"units"`
	PreviousScanned int    `json:"previous_scanned"`
	NewScanned      int    `json:"new_scanned"`
	Expected        int    `json:"expected"`
	Exceeded        bool   `json:"exceeded"`
	Operator        string `json:"operator,omitempty"`
}

// CarrierCascadedEvent is published once per carrier scan, partial or not
type CarrierCascadedEvent struct {
	ScanID     string                `json:"scan_id"`
	DocumentID string                `json:"document_id"`
	Label      string                `json:"label"`
	Mode       string                `json:"mode"`
	Applied    []CarrierStepEvent    `json:"applied"`
	Failed     []CarrierFailureEvent `json:"failed,omitempty"`
	Operator   string                `json:"operator,omitempty"`
}

// CarrierStepEvent is one applied GTIN of a carrier cascade
type CarrierStepEvent struct {
	GTIN       string `json:"gtin"`
	LineItemID string `json:"line_item_id"`
	Units      int    `json:"units"`
	NewScanned int    `json:"new_scanned"`
}

// CarrierFailureEvent is one unapplied GTIN of a carrier cascade
type CarrierFailureEvent struct {
	GTIN   string `json:"gtin"`
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

// DocumentCompletedEvent is published when every line reaches its expected quantity
type DocumentCompletedEvent struct {
	DocumentID    string `json:"document_id"`
	TotalExpected int    `json:"total_expected"`
	TotalScanned  int    `json:"total_scanned"`
}

// NotificationRequestedEvent asks the regulatory gateway to report the
// serialized identities of a finalized document
type NotificationRequestedEvent struct {
	RequestID  string                  `json:"request_id"`
	DocumentID string                  `json:"document_id"`
	Lines      []NotificationLineEvent `json:"lines"`
}

// NotificationLineEvent lists the identities of one line item
type NotificationLineEvent struct {
	LineItemID   string   `json:"line_item_id"`
	GTIN         string   `json:"gtin"`
	TrackingMode string   `json:"tracking_mode"`
	Identities   []string `json:"identities"`
}

// NotificationCompletedEvent carries the gateway's per-identity verdicts
type NotificationCompletedEvent struct {
	RequestID  string                     `json:"request_id"`
	DocumentID string                     `json:"document_id"`
	Outcomes   []NotificationOutcomeEvent `json:"outcomes"`
}

// NotificationOutcomeEvent is the verdict for one identity
type NotificationOutcomeEvent struct {
	LineItemID string `json:"line_item_id"`
	Identity   string `json:"identity"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}
