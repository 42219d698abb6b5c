package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a confirmed publish
var ErrNotConfirmed = errors.New("broker did not confirm the message")

// defaultConfirmTimeout bounds the wait for a publisher confirm
const defaultConfirmTimeout = 5 * time.Second

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithConfirms makes Publish wait until the broker has taken
// responsibility for each message. The publisher gets its own channel in
// confirm mode.
func WithConfirms(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout <= 0 {
			timeout = defaultConfirmTimeout
		}
		p.confirmTimeout = timeout
	}
}

// Publisher publishes event envelopes to one exchange
type Publisher struct {
	rmq            *RabbitMQ
	exchange       string
	source         string
	logger         *logger.Logger
	confirmTimeout time.Duration
	confirmCh      *amqp.Channel
}

// NewPublisher creates a new publisher for the given exchange
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger, opts ...PublisherOption) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.confirmTimeout > 0 {
		ch, err := rmq.OpenChannel()
		if err != nil {
			return nil, err
		}
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		p.confirmCh = ch
	}

	return p, nil
}

// Publish wraps data in an Event envelope and publishes it with the event
// type as routing key
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, p.source, CorrelationID(ctx), data)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	msg, err := p.publishing(event)
	if err != nil {
		return err
	}

	if p.confirmCh != nil {
		err = p.publishConfirmed(ctx, eventType, msg)
	} else {
		err = p.rmq.Channel().PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Bool("confirmed", p.confirmCh != nil).
		Msg("event published")

	return nil
}

func (p *Publisher) publishConfirmed(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	confirm, err := p.confirmCh.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// publishing builds the persistent AMQP message for event
func (p *Publisher) publishing(event *Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: event.CorrelationID,
		MessageId:     event.ID,
		Type:          event.Type,
		AppId:         event.Source,
		Timestamp:     event.Timestamp,
		Body:          body,
	}, nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID retrieves the correlation ID from context
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
