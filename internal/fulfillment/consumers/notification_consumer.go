package consumers

import (
	"context"
	"errors"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/dispatchrx/dispatchrx-backend/pkg/messaging"
)

// OutcomeRecorder stores regulator verdicts for a document
type OutcomeRecorder interface {
	RecordNotificationOutcomes(ctx context.Context, documentID, requestID string, outcomes []domain.NotificationOutcome) error
}

// NotificationResultHandler turns gateway verdicts into stored outcomes (testable without RabbitMQ)
type NotificationResultHandler struct {
	recorder OutcomeRecorder
	logger   *logger.Logger
}

// NewNotificationResultHandler creates a new handler
func NewNotificationResultHandler(recorder OutcomeRecorder, log *logger.Logger) *NotificationResultHandler {
	return &NotificationResultHandler{
		recorder: recorder,
		logger:   log,
	}
}

// HandleEvent processes one regulatory event
func (h *NotificationResultHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventNotificationCompleted:
		return h.handleNotificationCompleted(ctx, event)
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("unknown event type received")
		return nil
	}
}

func (h *NotificationResultHandler) handleNotificationCompleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.NotificationCompletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(err)
	}
	if data.DocumentID == "" || data.RequestID == "" {
		return messaging.Permanent(errors.New("notification result without document or request id"))
	}

	outcomes := make([]domain.NotificationOutcome, 0, len(data.Outcomes))
	for _, o := range data.Outcomes {
		status := domain.NotificationStatus(o.Status)
		switch status {
		case domain.NotificationAccepted, domain.NotificationRejected:
		default:
			h.logger.Warn().
				Str("request_id", data.RequestID).
				Str("identity", o.Identity).
				Str("status", o.Status).
				Msg("skipping outcome with unknown status")
			continue
		}
		outcomes = append(outcomes, domain.NotificationOutcome{
			LineItemID: o.LineItemID,
			Identity:   o.Identity,
			Status:     status,
			Detail:     o.Detail,
		})
	}

	h.logger.Info().
		Str("document_id", data.DocumentID).
		Str("request_id", data.RequestID).
		Int("outcomes", len(outcomes)).
		Msg("received notification result")

	return h.recorder.RecordNotificationOutcomes(ctx, data.DocumentID, data.RequestID, outcomes)
}

// NotificationResultConsumer consumes regulatory gateway results
type NotificationResultConsumer struct {
	consumer *messaging.Consumer
	handler  *NotificationResultHandler
	logger   *logger.Logger
}

// NewNotificationResultConsumer binds queue to the regulatory exchange
func NewNotificationResultConsumer(rmq *messaging.RabbitMQ, exchange, queue string, recorder OutcomeRecorder, log *logger.Logger) (*NotificationResultConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(exchange, messaging.EventNotificationCompleted); err != nil {
		return nil, err
	}

	handler := NewNotificationResultHandler(recorder, log)
	consumer.RegisterHandler(messaging.EventNotificationCompleted, handler.HandleEvent)

	return &NotificationResultConsumer{
		consumer: consumer,
		handler:  handler,
		logger:   log,
	}, nil
}

// Start starts consuming messages
func (c *NotificationResultConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Wait blocks until the consumer has stopped after ctx was cancelled
func (c *NotificationResultConsumer) Wait() {
	c.consumer.Wait()
}
