package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/pkg/config"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchange = "dlx.events"
	defaultHeartbeat   = 10 * time.Second
)

// RabbitMQ owns the broker connection and the channel used for topology
// declarations and unconfirmed publishes. The connection is not re-dialed
// after it drops; Health reports it down and the process is restarted.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *logger.Logger

	mu        sync.RWMutex
	closeErr  *amqp.Error
	flowBlock string
}

// New connects to RabbitMQ, retrying up to MaxRetries times with
// ReconnectDelay between attempts. The broker often starts after the
// service in local compose setups.
func New(ctx context.Context, cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: cfg,
		logger: log.WithComponent("rabbitmq"),
	}

	attempts := max(cfg.MaxRetries, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if err = rmq.connect(); err == nil {
			return rmq, nil
		}

		rmq.logger.Warn().Err(err).Int("attempt", i+1).Dur("retry_in", cfg.ReconnectDelay).Msg("RabbitMQ connection attempt failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ReconnectDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}

func (r *RabbitMQ) connect() error {
	heartbeat := r.config.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	props := amqp.NewConnectionProperties()
	if r.config.ConnectionName != "" {
		props.SetClientConnectionName(r.config.ConnectionName)
	}

	conn, err := amqp.DialConfig(r.config.URL, amqp.Config{Heartbeat: heartbeat, Properties: props})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.closeErr = nil
	r.mu.Unlock()

	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), conn.NotifyBlocked(make(chan amqp.Blocking, 1)))

	r.logger.Info().Str("connection_name", r.config.ConnectionName).Msg("connected to RabbitMQ")
	return nil
}

// watch records broker-initiated closes and flow control for Health
func (r *RabbitMQ) watch(closed <-chan *amqp.Error, blocked <-chan amqp.Blocking) {
	for {
		select {
		case err, ok := <-closed:
			if !ok {
				return
			}
			r.mu.Lock()
			r.closeErr = err
			r.mu.Unlock()
			r.logger.Error().Str("reason", err.Reason).Int("code", err.Code).Msg("RabbitMQ connection closed by broker")
			return
		case b, ok := <-blocked:
			if !ok {
				blocked = nil
				continue
			}
			r.mu.Lock()
			if b.Active {
				r.flowBlock = b.Reason
			} else {
				r.flowBlock = ""
			}
			r.mu.Unlock()
			r.logger.Warn().Bool("blocked", b.Active).Str("reason", b.Reason).Msg("RabbitMQ flow control")
		}
	}
}

// Channel returns the shared channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// OpenChannel opens an additional channel on the connection. The caller
// owns and closes it.
func (r *RabbitMQ) OpenChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil, fmt.Errorf("failed to open channel: connection closed")
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// OpenConsumerChannel opens a channel with the configured prefetch count
func (r *RabbitMQ) OpenConsumerChannel() (*amqp.Channel, error) {
	ch, err := r.OpenChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return ch, nil
}

// Close closes the shared channel and the connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil && !r.channel.IsClosed() {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health reports the connection state, including broker flow control
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.conn == nil || r.conn.IsClosed():
		status := map[string]string{"status": "down", "error": "connection closed"}
		if r.closeErr != nil {
			status["error"] = r.closeErr.Reason
		}
		return status
	case r.flowBlock != "":
		return map[string]string{"status": "blocked", "error": r.flowBlock}
	default:
		return map[string]string{"status": "up"}
	}
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

// DeclareQueue declares a durable queue dead-lettering into dlx.events
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
}

// DeclareDeadLetterQueue declares the dead letter exchange and the
// service's catch-all queue dlq.<service>, and returns the queue name
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) (string, error) {
	if err := r.DeclareExchange(deadLetterExchange); err != nil {
		return "", fmt.Errorf("failed to declare DLX exchange: %w", err)
	}

	queueName := "dlq." + serviceName
	if _, err := r.Channel().QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := r.BindQueue(queueName, deadLetterExchange, "#"); err != nil {
		return "", fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return queueName, nil
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}
