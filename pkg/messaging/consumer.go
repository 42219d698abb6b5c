package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// maxDeliveryAttempts bounds handler runs per message before it is
	// dead-lettered
	maxDeliveryAttempts = 3

	// attemptHeader counts handler runs across republished copies
	attemptHeader = "x-attempt"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks a handler error that no retry can fix. The message is
// dead-lettered on the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Consumer dispatches events from one queue to handlers by event type.
// A failed delivery is acked and republished to the queue with an
// incremented attempt header until maxDeliveryAttempts is reached.
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger

	// retry republishes a failed delivery; replaced in tests
	retry func(ctx context.Context, msg amqp.Delivery, attempt int) error

	wg sync.WaitGroup
}

// NewConsumer declares queueName and creates a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	c := &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log.WithComponent("consumer"),
	}
	c.retry = c.republish
	return c
}

// Subscribe binds the queue to exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")
	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes on a dedicated channel until ctx is done. Deliveries are
// handled one at a time; Wait blocks until the loop has exited.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.rmq.OpenConsumerChannel()
	if err != nil {
		return err
	}

	msgs, err := ch.ConsumeWithContext(ctx, c.queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// Wait blocks until the consume loop started by Start has returned
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("message_type", msg.Type).Msg("failed to unmarshal event")
		_ = msg.Reject(false)
		return
	}
	if event.Type == "" {
		event.Type = msg.Type
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		_ = msg.Ack(false)
		return
	}

	err := handler(ctx, &event)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	attempt := attempts(msg) + 1
	log := c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("attempt", attempt)

	switch {
	case IsPermanent(err):
		log.Msg("event cannot be processed, sending to DLQ")
		_ = msg.Reject(false)
	case attempt >= maxDeliveryAttempts:
		log.Msg("max attempts exceeded, sending to DLQ")
		_ = msg.Reject(false)
	default:
		log.Msg("failed to process event, retrying")
		if rerr := c.retry(ctx, msg, attempt); rerr != nil {
			c.logger.Error().Err(rerr).Str("event_id", event.ID).Msg("failed to republish event, requeueing")
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
	}
}

// republish sends a copy of msg straight to the consumer's queue through
// the default exchange, carrying the attempt count
func (c *Consumer) republish(ctx context.Context, msg amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int32(attempt)

	return c.rmq.Channel().PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Type:          msg.Type,
		AppId:         msg.AppId,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	})
}

// attempts returns how many times the message already failed, from the
// attempt header or, for copies routed back by a dead letter exchange,
// from x-death
func attempts(msg amqp.Delivery) int {
	switch n := msg.Headers[attemptHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}

	deaths, ok := msg.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	total := 0
	for _, death := range deaths {
		if d, ok := death.(amqp.Table); ok {
			if count, ok := d["count"].(int64); ok {
				total += int(count)
			}
		}
	}
	return total
}
