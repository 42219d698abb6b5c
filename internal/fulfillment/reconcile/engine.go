// Package reconcile decides how a decoded scan affects the counters of
// an open document.
package reconcile

import (
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
)

// Engine matches payloads against an index and a counter store
type Engine struct {
	index *index.Index
	store *counter.Store
}

// New creates an engine over the index and store of one document
func New(idx *index.Index, store *counter.Store) *Engine {
	return &Engine{index: idx, store: store}
}

// Reconcile plans the scan and applies its event to the store. Rejected
// scans do not change state.
func (e *Engine) Reconcile(p domain.Payload, mode domain.ScanMode) (domain.Result, *domain.Rejection) {
	res, ev, rej := e.Plan(p, mode)
	if rej != nil {
		return res, rej
	}
	if ev.IsZero() {
		return res, nil
	}
	if err := e.store.Apply(ev); err != nil {
		// Plan validated against the same state
		return res, domain.Reject(domain.ReasonPersistFailed, "%v", err).OnLine(res.LineItemID)
	}
	return res, nil
}

// Plan computes the result and counter event of a scan without mutating
// anything. A zero event means the scan is accepted but changes nothing.
func (e *Engine) Plan(p domain.Payload, mode domain.ScanMode) (domain.Result, counter.Event, *domain.Rejection) {
	switch p.Kind {
	case domain.PayloadInvalid:
		return domain.Result{}, counter.Event{}, domain.Reject(domain.ReasonInvalidFormat, "%s", p.Reason)
	case domain.PayloadCarrier:
		return domain.Result{}, counter.Event{}, domain.Reject(domain.ReasonWrongPayload,
			"carrier %s must be applied as a cascade", p.Label).With("label", p.Label)
	case domain.PayloadSerialized:
		return e.planSerialized(p, mode)
	case domain.PayloadPlain:
		return e.planPlain(p, mode)
	}
	return domain.Result{}, counter.Event{}, domain.Reject(domain.ReasonInvalidFormat, "unknown payload kind %q", p.Kind)
}

func (e *Engine) planSerialized(p domain.Payload, mode domain.ScanMode) (domain.Result, counter.Event, *domain.Rejection) {
	line, rej := e.lookup(p.GTIN)
	if rej != nil {
		return domain.Result{}, counter.Event{}, rej
	}
	if !line.TrackingMode.Identified() {
		return domain.Result{}, counter.Event{}, wrongMode(line, "plain barcode")
	}

	res := e.baseResult(line)
	switch mode {
	case domain.ModeRemove:
		if !e.store.HasIdentity(line.ID, p.SerialNumber) {
			return res, counter.Event{}, domain.Reject(domain.ReasonIdentityNotFound,
				"serial %s is not recorded on line %s", p.SerialNumber, line.ID).
				OnLine(line.ID).With("identity", p.SerialNumber)
		}
		res.NewScanned = res.PreviousScanned - 1
		return res, counter.Event{Kind: counter.IdentityRemoved, LineItemID: line.ID, Identity: p.SerialNumber}, nil
	default:
		if e.store.HasIdentity(line.ID, p.SerialNumber) {
			return res, counter.Event{}, domain.Reject(domain.ReasonDuplicateIdentity,
				"serial %s is already recorded on line %s", p.SerialNumber, line.ID).
				OnLine(line.ID).With("identity", p.SerialNumber)
		}
		res.NewScanned = res.PreviousScanned + 1
		res.Exceeded = res.NewScanned > res.Expected
		return res, counter.Event{Kind: counter.IdentityAdded, LineItemID: line.ID, Identity: p.SerialNumber}, nil
	}
}

func (e *Engine) planPlain(p domain.Payload, mode domain.ScanMode) (domain.Result, counter.Event, *domain.Rejection) {
	line, rej := e.lookup(p.Code)
	if rej != nil {
		return domain.Result{}, counter.Event{}, rej
	}
	if line.TrackingMode != domain.TrackingSimple {
		return domain.Result{}, counter.Event{}, wrongMode(line, "serialized")
	}

	n := p.Multiplier
	if n < 1 {
		n = 1
	}

	res := e.baseResult(line)
	switch mode {
	case domain.ModeRemove:
		if units := e.store.Units(line.ID); n > units {
			n = units
		}
		res.NewScanned = res.PreviousScanned - n
		if n == 0 {
			return res, counter.Event{}, nil
		}
		return res, counter.Event{Kind: counter.UnitsRemoved, LineItemID: line.ID, Units: n}, nil
	default:
		res.NewScanned = res.PreviousScanned + n
		res.Exceeded = res.NewScanned > res.Expected
		return res, counter.Event{Kind: counter.UnitsAdded, LineItemID: line.ID, Units: n}, nil
	}
}

func (e *Engine) lookup(identity string) (domain.LineItem, *domain.Rejection) {
	line, ok := e.index.Lookup(identity)
	if !ok {
		return domain.LineItem{}, domain.Reject(domain.ReasonItemNotFound,
			"no line matches %s", identity).With("code", identity)
	}
	return line, nil
}

func (e *Engine) baseResult(line domain.LineItem) domain.Result {
	scanned := e.store.Scanned(line.ID)
	return domain.Result{
		LineItemID:      line.ID,
		PreviousScanned: scanned,
		NewScanned:      scanned,
		Expected:        e.store.Expected(line.ID),
	}
}

func wrongMode(line domain.LineItem, required string) *domain.Rejection {
	return domain.Reject(domain.ReasonWrongTrackingMode,
		"line %s is %s and requires a %s scan", line.ID, line.TrackingMode, required).
		OnLine(line.ID).
		With("line", lineLabel(line)).
		With("required", required)
}

func lineLabel(line domain.LineItem) string {
	if line.Name != "" {
		return line.Name
	}
	return line.ProductCode
}

// Warning returns the non-fatal QuantityExceeded notice for an over-scan
// result, or nil
func (e *Engine) Warning(res domain.Result) *domain.Rejection {
	if !res.Exceeded {
		return nil
	}
	label := res.LineItemID
	if line, ok := e.index.ByID(res.LineItemID); ok {
		label = lineLabel(line)
	}
	return domain.Reject(domain.ReasonQuantityExceeded,
		"line %s has %d of %d expected units", res.LineItemID, res.NewScanned, res.Expected).
		OnLine(res.LineItemID).
		With("line", label).
		WithInt("scanned", res.NewScanned).
		WithInt("expected", res.Expected)
}
