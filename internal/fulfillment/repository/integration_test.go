package repository_test

import (
	"context"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/repository"
	"github.com/dispatchrx/dispatchrx-backend/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositories_Postgres(t *testing.T) {
	testutil.SkipIfShort(t)
	suite := testutil.SharedSuite(t)
	suite.Reset(t)
	ctx := testutil.DefaultTestContext(t)

	docs := repository.NewDocumentRepository(suite.DB)
	deltas := repository.NewDeltaRepository(suite.DB)
	manifests := repository.NewManifestRepository(suite.DB)
	notifications := repository.NewNotificationRepository(suite.DB)

	ser := suite.Fixtures.SerializedLine(testutil.SampleGTIN, 2)
	simple := suite.Fixtures.SimpleLine("X100", 5)
	doc := suite.Fixtures.Document(ser, simple)
	require.NoError(t, docs.Create(ctx, doc))

	record := func(key string, d domain.Delta) bool {
		t.Helper()
		d.Key = key
		d.ScanID = key
		d.DocumentID = doc.ID
		applied, err := deltas.Record(ctx, d)
		require.NoError(t, err)
		return applied
	}

	assert.True(t, record("k1", domain.Delta{LineItemID: ser.ID, Kind: domain.DeltaIdentityAdded, Identity: testutil.SampleSerial}))
	assert.False(t, record("k1", domain.Delta{LineItemID: ser.ID, Kind: domain.DeltaIdentityAdded, Identity: testutil.SampleSerial}))
	assert.True(t, record("k2", domain.Delta{LineItemID: simple.ID, Kind: domain.DeltaUnitsAdded, Units: 3}))
	assert.True(t, record("k3", domain.Delta{Kind: domain.DeltaCarrierApplied, Label: testutil.SampleCarrier}))

	loaded, err := docs.LoadDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, ser.ID, loaded.Lines[0].ID)
	assert.Equal(t, []string{testutil.SampleSerial}, loaded.Lines[0].RecordedIdentities)
	assert.Equal(t, 3, loaded.Lines[1].ScannedUnits)
	assert.Equal(t, []string{testutil.SampleCarrier}, loaded.AppliedCarriers)

	history, err := deltas.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	require.NoError(t, manifests.Replace(ctx, testutil.SampleCarrier, []domain.ManifestEntry{{GTIN: testutil.SampleGTIN, Count: 4}}))
	entries, err := manifests.Manifest(ctx, testutil.SampleCarrier)
	require.NoError(t, err)
	assert.Equal(t, []domain.ManifestEntry{{GTIN: testutil.SampleGTIN, Count: 4}}, entries)

	requestID := uuid.New().String()
	require.NoError(t, notifications.SaveOutcomes(ctx, doc.ID, requestID, []domain.NotificationOutcome{
		{LineItemID: ser.ID, Identity: testutil.SampleSerial, Status: domain.NotificationQueued},
	}))
	require.NoError(t, notifications.SaveOutcomes(context.Background(), doc.ID, requestID, []domain.NotificationOutcome{
		{LineItemID: ser.ID, Identity: testutil.SampleSerial, Status: domain.NotificationAccepted},
	}))
	outcomes, err := notifications.ListOutcomes(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.NotificationAccepted, outcomes[0].Status)

	require.NoError(t, docs.MarkFinalized(ctx, doc.ID))
	loaded, err = docs.LoadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Finalized)
}
