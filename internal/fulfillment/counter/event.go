package counter

import "github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"

// EventKind names a counter mutation
type EventKind string

const (
	IdentityAdded   EventKind = "identity_added"
	IdentityRemoved EventKind = "identity_removed"
	UnitsAdded      EventKind = "units_added"
	UnitsRemoved    EventKind = "units_removed"
	CarrierApplied  EventKind = "carrier_applied"
	CarrierReleased EventKind = "carrier_released"
)

// Event is the only input that changes a Store
type Event struct {
	Kind       EventKind `json:"kind"`
	LineItemID string    `json:"line_item_id,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	Units      int       `json:"units,omitempty"`
	Label      string    `json:"label,omitempty"`
}

// IsZero reports an empty event, used for scans that change nothing
func (e Event) IsZero() bool {
	return e.Kind == ""
}

// DeltaKind maps the event onto its persisted form
func (e Event) DeltaKind() domain.DeltaKind {
	return domain.DeltaKind(e.Kind)
}

// FromDelta rebuilds the event a persisted delta was produced from
func FromDelta(d domain.Delta) Event {
	return Event{
		Kind:       EventKind(d.Kind),
		LineItemID: d.LineItemID,
		Identity:   d.Identity,
		Units:      d.Units,
		Label:      d.Label,
	}
}
