// Package counter keeps the per-line fulfillment state of one open
// document. State changes only through Apply; every figure it reports
// is derived on read.
package counter

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
)

var (
	ErrUnknownLine        = errors.New("unknown line item")
	ErrDuplicateIdentity  = errors.New("identity already recorded")
	ErrIdentityNotFound   = errors.New("identity not recorded")
	ErrInvalidUnits       = errors.New("units must be positive")
	ErrMissingIdentity    = errors.New("identity must not be empty")
	ErrCarrierApplied     = errors.New("carrier already applied")
	ErrCarrierNotApplied  = errors.New("carrier not applied")
	ErrUnknownEventKind   = errors.New("unknown event kind")
	ErrIdentityOnUntraced = errors.New("line does not track identities")
)

type lineState struct {
	item       domain.LineItem
	identities map[string]struct{}
	units      int
}

func (l *lineState) scanned() int {
	return len(l.identities) + l.units
}

// Store is not safe for concurrent use; the owning session serializes access
type Store struct {
	order    []string
	lines    map[string]*lineState
	carriers map[string]struct{}
}

// New seeds a store from load-time line state
func New(lines []domain.LineItem) *Store {
	s := &Store{
		order:    make([]string, 0, len(lines)),
		lines:    make(map[string]*lineState, len(lines)),
		carriers: make(map[string]struct{}),
	}
	for _, item := range lines {
		st := &lineState{
			item:       item,
			identities: make(map[string]struct{}, len(item.RecordedIdentities)),
			units:      item.ScannedUnits,
		}
		if st.units < 0 {
			st.units = 0
		}
		for _, id := range item.RecordedIdentities {
			st.identities[id] = struct{}{}
		}
		st.item.RecordedIdentities = nil
		s.order = append(s.order, item.ID)
		s.lines[item.ID] = st
	}
	return s
}

// NewFromDocument seeds lines and applied carriers of a loaded document
func NewFromDocument(doc *domain.Document) *Store {
	s := New(doc.Lines)
	for _, label := range doc.AppliedCarriers {
		s.carriers[label] = struct{}{}
	}
	return s
}

// Apply validates e against the current state and then mutates. A
// rejected event leaves the store unchanged.
func (s *Store) Apply(e Event) error {
	switch e.Kind {
	case CarrierApplied:
		if _, ok := s.carriers[e.Label]; ok {
			return fmt.Errorf("%w: %s", ErrCarrierApplied, e.Label)
		}
		s.carriers[e.Label] = struct{}{}
		return nil
	case CarrierReleased:
		if _, ok := s.carriers[e.Label]; !ok {
			return fmt.Errorf("%w: %s", ErrCarrierNotApplied, e.Label)
		}
		delete(s.carriers, e.Label)
		return nil
	}

	line, ok := s.lines[e.LineItemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLine, e.LineItemID)
	}

	switch e.Kind {
	case IdentityAdded:
		if err := checkIdentity(line, e); err != nil {
			return err
		}
		if _, dup := line.identities[e.Identity]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, e.Identity)
		}
		line.identities[e.Identity] = struct{}{}
	case IdentityRemoved:
		if err := checkIdentity(line, e); err != nil {
			return err
		}
		if _, ok := line.identities[e.Identity]; !ok {
			return fmt.Errorf("%w: %s", ErrIdentityNotFound, e.Identity)
		}
		delete(line.identities, e.Identity)
	case UnitsAdded:
		if e.Units <= 0 {
			return ErrInvalidUnits
		}
		line.units += e.Units
	case UnitsRemoved:
		if e.Units <= 0 {
			return ErrInvalidUnits
		}
		line.units -= e.Units
		if line.units < 0 {
			line.units = 0
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	return nil
}

func checkIdentity(line *lineState, e Event) error {
	if e.Identity == "" {
		return ErrMissingIdentity
	}
	if !line.item.TrackingMode.Identified() {
		return fmt.Errorf("%w: %s", ErrIdentityOnUntraced, line.item.ID)
	}
	return nil
}

// Has reports whether the line exists
func (s *Store) Has(lineItemID string) bool {
	_, ok := s.lines[lineItemID]
	return ok
}

// Scanned is |identities| + units for the line
func (s *Store) Scanned(lineItemID string) int {
	if l, ok := s.lines[lineItemID]; ok {
		return l.scanned()
	}
	return 0
}

// Expected is the line's expected quantity
func (s *Store) Expected(lineItemID string) int {
	if l, ok := s.lines[lineItemID]; ok {
		return l.item.ExpectedQuantity
	}
	return 0
}

// Units is the identity-less unit count of the line
func (s *Store) Units(lineItemID string) int {
	if l, ok := s.lines[lineItemID]; ok {
		return l.units
	}
	return 0
}

// HasIdentity reports whether identity is recorded on the line
func (s *Store) HasIdentity(lineItemID, identity string) bool {
	l, ok := s.lines[lineItemID]
	if !ok {
		return false
	}
	_, ok = l.identities[identity]
	return ok
}

// Identities returns the recorded identities of the line, sorted
func (s *Store) Identities(lineItemID string) []string {
	l, ok := s.lines[lineItemID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l.identities))
	for id := range l.identities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CarrierApplied reports whether label has been applied to the document
func (s *Store) CarrierApplied(label string) bool {
	_, ok := s.carriers[label]
	return ok
}

// Carriers returns the applied carrier labels, sorted
func (s *Store) Carriers() []string {
	out := make([]string, 0, len(s.carriers))
	for l := range s.carriers {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Remaining is expected minus scanned, never below zero
func (s *Store) Remaining(lineItemID string) int {
	r := s.Expected(lineItemID) - s.Scanned(lineItemID)
	if r < 0 {
		return 0
	}
	return r
}

// Overage is how far the line is over its expected quantity
func (s *Store) Overage(lineItemID string) int {
	o := s.Scanned(lineItemID) - s.Expected(lineItemID)
	if o < 0 {
		return 0
	}
	return o
}

// IsComplete is scanned >= expected. A line expecting zero is complete.
func (s *Store) IsComplete(lineItemID string) bool {
	l, ok := s.lines[lineItemID]
	if !ok {
		return false
	}
	return l.scanned() >= l.item.ExpectedQuantity
}

// AllComplete reports whether every line is complete
func (s *Store) AllComplete() bool {
	for _, id := range s.order {
		if !s.IsComplete(id) {
			return false
		}
	}
	return true
}

// Aggregate is the document-level progress
type Aggregate struct {
	TotalExpected   int `json:"total_expected"`
	TotalScanned    int `json:"total_scanned"`
	TotalRemaining  int `json:"total_remaining"`
	PercentComplete int `json:"percent_complete"`
}

// Aggregate sums every line. TotalRemaining adds clamped per-line
// remainders, so an over-scanned line does not offset another line.
func (s *Store) Aggregate() Aggregate {
	var agg Aggregate
	for _, id := range s.order {
		agg.TotalExpected += s.Expected(id)
		agg.TotalScanned += s.Scanned(id)
		agg.TotalRemaining += s.Remaining(id)
	}
	if agg.TotalExpected > 0 {
		agg.PercentComplete = int(math.Round(float64(agg.TotalScanned) / float64(agg.TotalExpected) * 100))
	}
	return agg
}

// LineView is a read-only projection of one line
type LineView struct {
	LineItemID   string              `json:"line_item_id"`
	ProductCode  string              `json:"product_code"`
	GTIN         string              `json:"gtin,omitempty"`
	Name         string              `json:"name,omitempty"`
	TrackingMode domain.TrackingMode `json:"tracking_mode"`
	Expected     int                 `json:"expected"`
	Scanned      int                 `json:"scanned"`
	Identities   int                 `json:"identities"`
	Units        int                 `json:"units"`
	Remaining    int                 `json:"remaining"`
	Overage      int                 `json:"overage"`
	Complete     bool                `json:"complete"`
}

// Snapshot returns every line in document order
func (s *Store) Snapshot() []LineView {
	out := make([]LineView, 0, len(s.order))
	for _, id := range s.order {
		l := s.lines[id]
		out = append(out, LineView{
			LineItemID:   id,
			ProductCode:  l.item.ProductCode,
			GTIN:         l.item.GTIN,
			Name:         l.item.Name,
			TrackingMode: l.item.TrackingMode,
			Expected:     l.item.ExpectedQuantity,
			Scanned:      l.scanned(),
			Identities:   len(l.identities),
			Units:        l.units,
			Remaining:    s.Remaining(id),
			Overage:      s.Overage(id),
			Complete:     s.IsComplete(id),
		})
	}
	return out
}
