package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/dispatchrx/dispatchrx-backend/pkg/messaging"
	"github.com/google/uuid"
)

const notifyConfirmTimeout = 10 * time.Second

// NotificationPublisher hands finalized documents to the regulatory
// gateway. Verdicts arrive later on regulatory.notification.completed,
// so every identity is reported as queued.
type NotificationPublisher struct {
	broker Broker
	logger *logger.Logger
}

// NewNotificationPublisher creates a notifier on the fulfillment exchange.
// Requests are published with broker confirms.
func NewNotificationPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*NotificationPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeFulfillmentEvents, Source, log,
		messaging.WithConfirms(notifyConfirmTimeout))
	if err != nil {
		return nil, err
	}
	return NewNotificationPublisherWithBroker(publisher, log), nil
}

// NewNotificationPublisherWithBroker creates a notifier on an existing broker
func NewNotificationPublisherWithBroker(broker Broker, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		broker: broker,
		logger: log,
	}
}

// Notify publishes req and returns one queued outcome per identity
func (n *NotificationPublisher) Notify(ctx context.Context, req domain.NotificationRequest) ([]domain.NotificationOutcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	data := messaging.NotificationRequestedEvent{
		RequestID:  req.RequestID,
		DocumentID: req.DocumentID,
		Lines:      make([]messaging.NotificationLineEvent, 0, len(req.Lines)),
	}
	outcomes := make([]domain.NotificationOutcome, 0, req.Count())
	for _, l := range req.Lines {
		data.Lines = append(data.Lines, messaging.NotificationLineEvent{
			LineItemID:   l.LineItemID,
			GTIN:         l.GTIN,
			TrackingMode: string(l.TrackingMode),
			Identities:   l.Identities,
		})
		for _, id := range l.Identities {
			outcomes = append(outcomes, domain.NotificationOutcome{
				LineItemID: l.LineItemID,
				Identity:   id,
				Status:     domain.NotificationQueued,
			})
		}
	}

	if err := n.broker.Publish(ctx, messaging.EventNotificationRequested, data); err != nil {
		return nil, fmt.Errorf("failed to request notification for document %s: %w", req.DocumentID, err)
	}

	n.logger.Info().
		Str("document_id", req.DocumentID).
		Str("request_id", req.RequestID).
		Int("identities", len(outcomes)).
		Msg("regulatory notification requested")

	return outcomes, nil
}
