package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Publishing(t *testing.T) {
	p := &Publisher{exchange: ExchangeFulfillmentEvents, source: "fulfillment-service", logger: logger.Nop()}

	event, err := NewEvent(EventScanReconciled, p.source, "corr-9", ScanReconciledEvent{DocumentID: "doc-1"})
	require.NoError(t, err)

	msg, err := p.publishing(event)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "corr-9", msg.CorrelationId)
	assert.Equal(t, event.ID, msg.MessageId)
	assert.Equal(t, EventScanReconciled, msg.Type)
	assert.Equal(t, "fulfillment-service", msg.AppId)
	assert.Equal(t, event.Timestamp, msg.Timestamp)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	var data ScanReconciledEvent
	require.NoError(t, decoded.UnmarshalData(&data))
	assert.Equal(t, "doc-1", data.DocumentID)
}

func TestWithConfirms_DefaultTimeout(t *testing.T) {
	p := &Publisher{}
	WithConfirms(0)(p)
	assert.Equal(t, defaultConfirmTimeout, p.confirmTimeout)
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))
	assert.Equal(t, "abc", CorrelationID(WithCorrelationID(context.Background(), "abc")))
}
