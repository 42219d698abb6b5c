// Package cascade expands a carrier label into per-GTIN unit deltas using
// the carrier manifest.
package cascade

import (
	"context"
	"errors"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
)

var (
	// ErrManifestNotFound is returned by a ManifestLookup for unknown labels
	ErrManifestNotFound = errors.New("carrier manifest not found")

	// ErrAlreadyCommitted is returned by a CommitFunc when an earlier attempt
	// of the same scan persisted the event and the store already holds it
	ErrAlreadyCommitted = errors.New("event already committed")
)

// ManifestLookup resolves a carrier label to the units it contains
type ManifestLookup interface {
	Manifest(ctx context.Context, label string) ([]domain.ManifestEntry, error)
}

// CommitFunc persists one event before the store applies it. A nil
// CommitFunc applies in memory only.
type CommitFunc func(ctx context.Context, e counter.Event) error

// Resolver applies carrier scans to one document
type Resolver struct {
	index     *index.Index
	store     *counter.Store
	manifests ManifestLookup
	logger    *logger.Logger
}

// NewResolver creates a resolver over the index and store of one document
func NewResolver(idx *index.Index, store *counter.Store, manifests ManifestLookup, log *logger.Logger) *Resolver {
	return &Resolver{
		index:     idx,
		store:     store,
		manifests: manifests,
		logger:    log,
	}
}

// ApplyCarrier adds or removes the units of label. Entries are committed
// one at a time and the store changes only after each commit succeeds,
// so a failure part way leaves memory matching what was persisted.
// Whole-carrier problems are returned as a rejection; per-GTIN problems
// are listed in the result.
func (r *Resolver) ApplyCarrier(ctx context.Context, label string, mode domain.ScanMode, commit CommitFunc) (domain.CascadeResult, *domain.Rejection) {
	result := domain.CascadeResult{Label: label, Mode: mode, Applied: []domain.CascadeStep{}}

	applied := r.store.CarrierApplied(label)
	if mode == domain.ModeRemove && !applied {
		return result, domain.Reject(domain.ReasonCarrierNotApplied,
			"carrier %s is not applied to this document", label).With("label", label)
	}
	if mode != domain.ModeRemove && applied {
		return result, domain.Reject(domain.ReasonDuplicateIdentity,
			"carrier %s is already applied", label).With("identity", label)
	}

	entries, err := r.manifests.Manifest(ctx, label)
	if err != nil && !errors.Is(err, ErrManifestNotFound) {
		r.logger.Error().Err(err).Str("label", label).Msg("manifest lookup failed")
		return result, domain.Reject(domain.ReasonUnavailable, "manifest lookup failed: %v", err).With("label", label)
	}
	if len(entries) == 0 {
		return result, domain.Reject(domain.ReasonCarrierNotFound,
			"no manifest for carrier %s", label).With("label", label)
	}

	for _, entry := range entries {
		step, failure := r.applyEntry(ctx, entry, mode, label, commit)
		if failure != nil {
			r.logger.Warn().
				Str("label", label).
				Str("gtin", entry.GTIN).
				Str("reason", string(failure.Reason)).
				Msg(failure.Message)
			result.Failed = append(result.Failed, *failure)
			continue
		}
		result.Applied = append(result.Applied, step)
	}

	r.mark(ctx, &result, commit)
	return result, nil
}

func (r *Resolver) applyEntry(ctx context.Context, entry domain.ManifestEntry, mode domain.ScanMode, label string, commit CommitFunc) (domain.CascadeStep, *domain.CascadeFailure) {
	fail := func(reason domain.Reason, msg string) *domain.CascadeFailure {
		return &domain.CascadeFailure{GTIN: entry.GTIN, Count: entry.Count, Reason: reason, Message: msg}
	}

	if entry.Count <= 0 {
		return domain.CascadeStep{}, fail(domain.ReasonInvalidFormat, "manifest count must be positive")
	}
	line, ok := r.index.Lookup(entry.GTIN)
	if !ok {
		return domain.CascadeStep{}, fail(domain.ReasonItemNotFound, "GTIN is not on this document")
	}

	prev := r.store.Scanned(line.ID)
	step := domain.CascadeStep{
		GTIN:            entry.GTIN,
		LineItemID:      line.ID,
		PreviousScanned: prev,
		NewScanned:      prev,
		Expected:        r.store.Expected(line.ID),
	}

	ev := counter.Event{Kind: counter.UnitsAdded, LineItemID: line.ID, Units: entry.Count, Label: label}
	if mode == domain.ModeRemove {
		// floor at zero: only carrier and plain units can be taken back
		n := entry.Count
		if units := r.store.Units(line.ID); n > units {
			n = units
		}
		if n == 0 {
			return step, nil
		}
		ev = counter.Event{Kind: counter.UnitsRemoved, LineItemID: line.ID, Units: n, Label: label}
	}

	replayed := false
	if commit != nil {
		if err := commit(ctx, ev); err != nil {
			if !errors.Is(err, ErrAlreadyCommitted) {
				return domain.CascadeStep{}, fail(domain.ReasonPersistFailed, err.Error())
			}
			replayed = true
		}
	}
	if !replayed {
		if err := r.store.Apply(ev); err != nil {
			return domain.CascadeStep{}, fail(domain.ReasonPersistFailed, err.Error())
		}
	}

	step.Units = ev.Units
	step.NewScanned = r.store.Scanned(line.ID)
	return step, nil
}

// mark records the carrier as applied or released. An add that moved no
// units leaves the carrier unapplied so it can be scanned again; a remove
// with unpersisted entries keeps it applied so the remove can be retried.
func (r *Resolver) mark(ctx context.Context, result *domain.CascadeResult, commit CommitFunc) {
	ev := counter.Event{Kind: counter.CarrierApplied, Label: result.Label}
	if result.Mode == domain.ModeRemove {
		ev.Kind = counter.CarrierReleased
		for _, f := range result.Failed {
			if f.Reason == domain.ReasonPersistFailed {
				return
			}
		}
	} else if len(result.Applied) == 0 {
		return
	}

	if commit != nil {
		err := commit(ctx, ev)
		if errors.Is(err, ErrAlreadyCommitted) {
			return
		}
		if err != nil {
			r.logger.Error().Err(err).Str("label", result.Label).Msg("failed to record carrier marker")
			result.Failed = append(result.Failed, domain.CascadeFailure{
				Reason:  domain.ReasonPersistFailed,
				Message: "carrier marker not recorded: " + err.Error(),
			})
			return
		}
	}
	if err := r.store.Apply(ev); err != nil {
		r.logger.Error().Err(err).Str("label", result.Label).Msg("failed to apply carrier marker")
	}
}
