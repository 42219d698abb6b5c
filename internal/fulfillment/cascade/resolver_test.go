package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const label = "00123456789012345675"

type fakeManifests struct {
	entries map[string][]domain.ManifestEntry
	err     error
}

func (f *fakeManifests) Manifest(ctx context.Context, l string) ([]domain.ManifestEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	entries, ok := f.entries[l]
	if !ok {
		return nil, ErrManifestNotFound
	}
	return entries, nil
}

func setup(t *testing.T, manifest []domain.ManifestEntry, lines ...domain.LineItem) (*Resolver, *counter.Store) {
	t.Helper()
	idx, err := index.Build(lines)
	require.NoError(t, err)
	store := counter.New(lines)
	manifests := &fakeManifests{entries: map[string][]domain.ManifestEntry{label: manifest}}
	return NewResolver(idx, store, manifests, logger.Nop()), store
}

func serialized(id, gtin string, expected int) domain.LineItem {
	return domain.LineItem{ID: id, ProductCode: id, GTIN: gtin, TrackingMode: domain.TrackingSerialized, ExpectedQuantity: expected}
}

func TestApplyCarrier_AddThenRemove(t *testing.T) {
	r, store := setup(t,
		[]domain.ManifestEntry{{GTIN: "08699293700258", Count: 4}},
		serialized("l1", "08699293700258", 4),
	)
	ctx := context.Background()

	res, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
	require.Nil(t, rej)
	assert.False(t, res.Partial())
	require.Len(t, res.Applied, 1)
	assert.Equal(t, domain.CascadeStep{
		GTIN: "08699293700258", LineItemID: "l1", Units: 4, PreviousScanned: 0, NewScanned: 4, Expected: 4,
	}, res.Applied[0])
	assert.Equal(t, 4, store.Scanned("l1"))
	assert.True(t, store.IsComplete("l1"))
	assert.True(t, store.CarrierApplied(label))

	res, rej = r.ApplyCarrier(ctx, label, domain.ModeRemove, nil)
	require.Nil(t, rej)
	assert.Equal(t, 4, res.TotalUnits())
	assert.Equal(t, 0, store.Scanned("l1"))
	assert.False(t, store.CarrierApplied(label))
}

func TestApplyCarrier_ReversalSymmetry(t *testing.T) {
	lines := []domain.LineItem{
		serialized("l1", "08699293700258", 10),
		{ID: "l2", ProductCode: "4012345678901", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 3, ScannedUnits: 2},
		serialized("l3", "05000000000001", 1),
	}
	lines[0].RecordedIdentities = []string{"S1", "S2"}

	r, store := setup(t, []domain.ManifestEntry{
		{GTIN: "8699293700258", Count: 6},
		{GTIN: "04012345678901", Count: 5},
	}, lines...)
	before := store.Snapshot()
	ctx := context.Background()

	_, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
	require.Nil(t, rej)
	assert.Equal(t, 8, store.Scanned("l1"))
	assert.Equal(t, 7, store.Scanned("l2"))

	_, rej = r.ApplyCarrier(ctx, label, domain.ModeRemove, nil)
	require.Nil(t, rej)
	assert.Equal(t, before, store.Snapshot())
}

// Units removed by other means before the carrier remove are not
// restored: removal floors at zero per line.
func TestApplyCarrier_FloorAtZeroBreaksSymmetry(t *testing.T) {
	r, store := setup(t,
		[]domain.ManifestEntry{{GTIN: "X100", Count: 4}},
		domain.LineItem{ID: "l1", ProductCode: "X100", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 10, ScannedUnits: 1},
	)
	ctx := context.Background()

	_, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
	require.Nil(t, rej)
	require.NoError(t, store.Apply(counter.Event{Kind: counter.UnitsRemoved, LineItemID: "l1", Units: 3}))

	res, rej := r.ApplyCarrier(ctx, label, domain.ModeRemove, nil)
	require.Nil(t, rej)
	assert.Equal(t, 2, res.Applied[0].Units)
	assert.Equal(t, 0, store.Scanned("l1"), "pre-carrier unit is lost to the floor")
}

func TestApplyCarrier_PartialFailure(t *testing.T) {
	r, store := setup(t, []domain.ManifestEntry{
		{GTIN: "08699293700258", Count: 2},
		{GTIN: "09999999999999", Count: 3},
		{GTIN: "08699293700258", Count: 0},
	}, serialized("l1", "08699293700258", 4))

	res, rej := r.ApplyCarrier(context.Background(), label, domain.ModeAdd, nil)
	require.Nil(t, rej)
	require.True(t, res.Partial())
	assert.Equal(t, 1, res.AffectedGTINs())
	require.Len(t, res.Failed, 2)
	assert.Equal(t, domain.ReasonItemNotFound, res.Failed[0].Reason)
	assert.Equal(t, "09999999999999", res.Failed[0].GTIN)
	assert.Equal(t, domain.ReasonInvalidFormat, res.Failed[1].Reason)
	assert.Equal(t, 2, store.Scanned("l1"))
	assert.True(t, store.CarrierApplied(label))

	partial := res.Err()
	require.NotNil(t, partial)
	assert.Equal(t, domain.ReasonPartialCascadeFailure, partial.Reason)
}

func TestApplyCarrier_CommitFailureLeavesCountersUntouched(t *testing.T) {
	r, store := setup(t, []domain.ManifestEntry{
		{GTIN: "A", Count: 2},
		{GTIN: "B", Count: 3},
	},
		domain.LineItem{ID: "a", ProductCode: "A", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 2},
		domain.LineItem{ID: "b", ProductCode: "B", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 3},
	)

	var committed []counter.Event
	commit := func(ctx context.Context, e counter.Event) error {
		if e.LineItemID == "b" {
			return errors.New("connection reset")
		}
		committed = append(committed, e)
		return nil
	}

	res, rej := r.ApplyCarrier(context.Background(), label, domain.ModeAdd, commit)
	require.Nil(t, rej)

	require.Len(t, res.Applied, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, domain.ReasonPersistFailed, res.Failed[0].Reason)
	assert.Equal(t, 2, store.Scanned("a"))
	assert.Equal(t, 0, store.Scanned("b"))

	require.Len(t, committed, 2)
	assert.Equal(t, counter.Event{Kind: counter.UnitsAdded, LineItemID: "a", Units: 2, Label: label}, committed[0])
	assert.Equal(t, counter.Event{Kind: counter.CarrierApplied, Label: label}, committed[1])
}

func TestApplyCarrier_AlreadyCommittedEntriesAreNotReapplied(t *testing.T) {
	lines := []domain.LineItem{
		{ID: "a", ProductCode: "A", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 2, ScannedUnits: 2},
		{ID: "b", ProductCode: "B", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 3},
	}
	idx, err := index.Build(lines)
	require.NoError(t, err)
	store := counter.New(lines)
	manifests := &fakeManifests{entries: map[string][]domain.ManifestEntry{label: {
		{GTIN: "A", Count: 2},
		{GTIN: "B", Count: 3},
	}}}
	r := NewResolver(idx, store, manifests, logger.Nop())

	// "a" was persisted by an earlier attempt of the same scan
	commit := func(ctx context.Context, e counter.Event) error {
		if e.LineItemID == "a" {
			return ErrAlreadyCommitted
		}
		return nil
	}

	res, rej := r.ApplyCarrier(context.Background(), label, domain.ModeAdd, commit)
	require.Nil(t, rej)
	assert.False(t, res.Partial())
	assert.Len(t, res.Applied, 2)
	assert.Equal(t, 2, store.Scanned("a"))
	assert.Equal(t, 3, store.Scanned("b"))
	assert.True(t, store.CarrierApplied(label))
}

func TestApplyCarrier_CarrierLevelRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown label", func(t *testing.T) {
		r, _ := setup(t, nil, serialized("l1", "1", 1))
		_, rej := r.ApplyCarrier(ctx, "00999", domain.ModeAdd, nil)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonCarrierNotFound, rej.Reason)
	})

	t.Run("empty manifest", func(t *testing.T) {
		r, _ := setup(t, []domain.ManifestEntry{}, serialized("l1", "1", 1))
		_, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonCarrierNotFound, rej.Reason)
	})

	t.Run("lookup failure", func(t *testing.T) {
		idx, err := index.Build(nil)
		require.NoError(t, err)
		r := NewResolver(idx, counter.New(nil), &fakeManifests{err: errors.New("db down")}, logger.Nop())
		_, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonUnavailable, rej.Reason)
		assert.True(t, rej.Reason.Retryable())
	})

	t.Run("applying twice", func(t *testing.T) {
		r, store := setup(t, []domain.ManifestEntry{{GTIN: "1", Count: 1}}, serialized("l1", "1", 1))
		_, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
		require.Nil(t, rej)
		_, rej = r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonDuplicateIdentity, rej.Reason)
		assert.Equal(t, 1, store.Scanned("l1"))
	})

	t.Run("removing a carrier never applied", func(t *testing.T) {
		r, _ := setup(t, []domain.ManifestEntry{{GTIN: "1", Count: 1}}, serialized("l1", "1", 1))
		_, rej := r.ApplyCarrier(ctx, label, domain.ModeRemove, nil)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonCarrierNotApplied, rej.Reason)
	})

	t.Run("no entry matches", func(t *testing.T) {
		r, store := setup(t, []domain.ManifestEntry{{GTIN: "2", Count: 1}}, serialized("l1", "1", 1))
		res, rej := r.ApplyCarrier(ctx, label, domain.ModeAdd, nil)
		require.Nil(t, rej)
		assert.Empty(t, res.Applied)
		assert.True(t, res.Partial())
		assert.False(t, store.CarrierApplied(label), "nothing applied so the label stays free")
	})
}
