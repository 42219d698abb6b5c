package reconcile

import (
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCode = "01086992937002582110020832004322217280831102509178"

func newEngine(t *testing.T, lines ...domain.LineItem) (*Engine, *counter.Store) {
	t.Helper()
	idx, err := index.Build(lines)
	require.NoError(t, err)
	store := counter.New(lines)
	return New(idx, store), store
}

func serializedLine(expected int) domain.LineItem {
	return domain.LineItem{
		ID:               "ser",
		ProductCode:      "P-258",
		GTIN:             "08699293700258",
		Name:             "Sample 20mg",
		TrackingMode:     domain.TrackingSerialized,
		ExpectedQuantity: expected,
	}
}

func simpleLine(expected int) domain.LineItem {
	return domain.LineItem{
		ID:               "simple",
		ProductCode:      "X100",
		TrackingMode:     domain.TrackingSimple,
		ExpectedQuantity: expected,
	}
}

func unit(t *testing.T, serial string) domain.Payload {
	t.Helper()
	code, err := barcode.EncodeSerialized(barcode.Fields{
		GTIN: "08699293700258", Serial: serial, Expiry: "280831", Lot: "2509178",
	})
	require.NoError(t, err)
	return barcode.Decode(code)
}

func TestReconcile_DuplicateSerialRejected(t *testing.T) {
	e, store := newEngine(t, serializedLine(2))

	res, rej := e.Reconcile(barcode.Decode(sampleCode), domain.ModeAdd)
	require.Nil(t, rej)
	assert.Equal(t, domain.Result{LineItemID: "ser", PreviousScanned: 0, NewScanned: 1, Expected: 2}, res)
	assert.Equal(t, 1, store.Remaining("ser"))

	_, rej = e.Reconcile(barcode.Decode(sampleCode), domain.ModeAdd)
	require.NotNil(t, rej)
	assert.Equal(t, domain.ReasonDuplicateIdentity, rej.Reason)
	assert.Equal(t, "100208320043222", rej.Params["identity"])
	assert.Equal(t, 1, store.Scanned("ser"))
}

func TestReconcile_SerializedRules(t *testing.T) {
	tests := []struct {
		name       string
		lines      []domain.LineItem
		payload    domain.Payload
		mode       domain.ScanMode
		wantReason domain.Reason
	}{
		{
			name:       "unknown GTIN",
			lines:      []domain.LineItem{simpleLine(1)},
			payload:    barcode.Decode(sampleCode),
			mode:       domain.ModeAdd,
			wantReason: domain.ReasonItemNotFound,
		},
		{
			name: "serialized scan on simple line",
			lines: []domain.LineItem{{
				ID: "s", ProductCode: "08699293700258", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 1,
			}},
			payload:    barcode.Decode(sampleCode),
			mode:       domain.ModeAdd,
			wantReason: domain.ReasonWrongTrackingMode,
		},
		{
			name:       "remove serial never recorded",
			lines:      []domain.LineItem{serializedLine(1)},
			payload:    barcode.Decode(sampleCode),
			mode:       domain.ModeRemove,
			wantReason: domain.ReasonIdentityNotFound,
		},
		{
			name:       "invalid payload",
			lines:      []domain.LineItem{serializedLine(1)},
			payload:    barcode.Decode("0108699293700258" + "99" + "ABCDEFGHIJKLMN"),
			mode:       domain.ModeAdd,
			wantReason: domain.ReasonInvalidFormat,
		},
		{
			name:       "carrier is never reconciled directly",
			lines:      []domain.LineItem{serializedLine(1)},
			payload:    barcode.Decode("00123456789012345675"),
			mode:       domain.ModeAdd,
			wantReason: domain.ReasonWrongPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newEngine(t, tt.lines...)
			before := store.Snapshot()

			_, rej := e.Reconcile(tt.payload, tt.mode)

			require.NotNil(t, rej)
			assert.Equal(t, tt.wantReason, rej.Reason)
			assert.Equal(t, before, store.Snapshot(), "rejections never mutate")
		})
	}
}

func TestReconcile_DeviceTrackedAcceptsSerializedScans(t *testing.T) {
	line := serializedLine(1)
	line.TrackingMode = domain.TrackingDevice
	e, store := newEngine(t, line)

	_, rej := e.Reconcile(unit(t, "UDI-1"), domain.ModeAdd)
	require.Nil(t, rej)
	_, rej = e.Reconcile(unit(t, "UDI-1"), domain.ModeAdd)
	require.NotNil(t, rej)
	assert.Equal(t, domain.ReasonDuplicateIdentity, rej.Reason)

	_, rej = e.Reconcile(domain.Plain("08699293700258", 1), domain.ModeAdd)
	require.NotNil(t, rej)
	assert.Equal(t, domain.ReasonWrongTrackingMode, rej.Reason)
	assert.Equal(t, "serialized", rej.Params["required"])

	assert.Equal(t, 1, store.Scanned("ser"))
}

func TestReconcile_RemoveSerial(t *testing.T) {
	e, store := newEngine(t, serializedLine(2))

	_, rej := e.Reconcile(unit(t, "A1"), domain.ModeAdd)
	require.Nil(t, rej)

	res, rej := e.Reconcile(unit(t, "A1"), domain.ModeRemove)
	require.Nil(t, rej)
	assert.Equal(t, 1, res.PreviousScanned)
	assert.Equal(t, 0, res.NewScanned)
	assert.False(t, store.HasIdentity("ser", "A1"))

	// the unit can be scanned again after removal
	_, rej = e.Reconcile(unit(t, "A1"), domain.ModeAdd)
	assert.Nil(t, rej)
}

func TestReconcile_OverScanIsRecordedWithWarning(t *testing.T) {
	tests := []struct {
		name    string
		line    domain.LineItem
		payload func(t *testing.T, i int) domain.Payload
	}{
		{
			name:    "serialized",
			line:    serializedLine(1),
			payload: func(t *testing.T, i int) domain.Payload { return unit(t, string(rune('A'+i))) },
		},
		{
			name: "device tracked",
			line: func() domain.LineItem {
				l := serializedLine(1)
				l.TrackingMode = domain.TrackingDevice
				return l
			}(),
			payload: func(t *testing.T, i int) domain.Payload { return unit(t, string(rune('A'+i))) },
		},
		{
			name:    "simple",
			line:    simpleLine(1),
			payload: func(t *testing.T, i int) domain.Payload { return domain.Plain("X100", 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newEngine(t, tt.line)

			res, rej := e.Reconcile(tt.payload(t, 0), domain.ModeAdd)
			require.Nil(t, rej)
			assert.False(t, res.Exceeded)
			assert.Nil(t, e.Warning(res))

			res, rej = e.Reconcile(tt.payload(t, 1), domain.ModeAdd)
			require.Nil(t, rej)
			assert.True(t, res.Exceeded)
			assert.Equal(t, 2, store.Scanned(tt.line.ID))

			warn := e.Warning(res)
			require.NotNil(t, warn)
			assert.Equal(t, domain.ReasonQuantityExceeded, warn.Reason)
			assert.Equal(t, "2", warn.Params["scanned"])
			assert.Equal(t, "1", warn.Params["expected"])
		})
	}
}

func TestReconcile_MultiplierEquivalence(t *testing.T) {
	for n := 1; n <= 6; n++ {
		bulk, bulkStore := newEngine(t, simpleLine(5))
		single, singleStore := newEngine(t, simpleLine(5))

		res, rej := bulk.Reconcile(domain.Plain("X100", n), domain.ModeAdd)
		require.Nil(t, rej)
		assert.Equal(t, n, res.NewScanned-res.PreviousScanned)

		for i := 0; i < n; i++ {
			_, rej := single.Reconcile(domain.Plain("X100", 1), domain.ModeAdd)
			require.Nil(t, rej)
		}

		assert.Equal(t, singleStore.Scanned("simple"), bulkStore.Scanned("simple"), "n=%d", n)
	}
}

func TestReconcile_PlainRules(t *testing.T) {
	t.Run("plain code on serialized line", func(t *testing.T) {
		e, _ := newEngine(t, serializedLine(1))
		_, rej := e.Reconcile(domain.Plain("P-258", 1), domain.ModeAdd)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonWrongTrackingMode, rej.Reason)
		assert.Equal(t, "Sample 20mg", rej.Params["line"])
	})

	t.Run("unknown plain code", func(t *testing.T) {
		e, _ := newEngine(t, simpleLine(1))
		_, rej := e.Reconcile(domain.Plain("X999", 1), domain.ModeAdd)
		require.NotNil(t, rej)
		assert.Equal(t, domain.ReasonItemNotFound, rej.Reason)
		assert.Equal(t, "X999", rej.Params["code"])
	})

	t.Run("removal floors at zero", func(t *testing.T) {
		e, store := newEngine(t, simpleLine(5))
		_, rej := e.Reconcile(domain.Plain("X100", 2), domain.ModeAdd)
		require.Nil(t, rej)

		res, rej := e.Reconcile(domain.Plain("X100", 5), domain.ModeRemove)
		require.Nil(t, rej)
		assert.Equal(t, 0, res.NewScanned)
		assert.Equal(t, 0, store.Scanned("simple"))
	})

	t.Run("removal from empty line changes nothing", func(t *testing.T) {
		e, _ := newEngine(t, simpleLine(5))
		res, ev, rej := e.Plan(domain.Plain("X100", 1), domain.ModeRemove)
		require.Nil(t, rej)
		assert.True(t, ev.IsZero())
		assert.Equal(t, 0, res.NewScanned)
	})

	t.Run("padded GTIN matches simple line", func(t *testing.T) {
		e, store := newEngine(t, domain.LineItem{
			ID: "ean", ProductCode: "8699293700258", TrackingMode: domain.TrackingSimple, ExpectedQuantity: 3,
		})
		_, rej := e.Reconcile(domain.Plain("08699293700258", 1), domain.ModeAdd)
		require.Nil(t, rej)
		assert.Equal(t, 1, store.Scanned("ean"))
	})
}

func TestPlan_DoesNotMutate(t *testing.T) {
	e, store := newEngine(t, serializedLine(2), simpleLine(5))

	res, ev, rej := e.Plan(barcode.Decode(sampleCode), domain.ModeAdd)
	require.Nil(t, rej)
	assert.Equal(t, counter.Event{Kind: counter.IdentityAdded, LineItemID: "ser", Identity: "100208320043222"}, ev)
	assert.Equal(t, 1, res.NewScanned)
	assert.Equal(t, 0, store.Scanned("ser"))

	_, ev, rej = e.Plan(domain.Plain("X100", 3), domain.ModeAdd)
	require.Nil(t, rej)
	assert.Equal(t, counter.Event{Kind: counter.UnitsAdded, LineItemID: "simple", Units: 3}, ev)
	assert.Equal(t, 0, store.Scanned("simple"))
}
