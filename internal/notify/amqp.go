package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"farm-access/internal/domain"
)

// Exchange is the topic exchange access events are published to.
const Exchange = "access.events"

// amqpChannel is the subset of *amqp091.Channel the notifier uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPNotifier publishes reviewer events to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	conn    *amqp091.Connection
	channel amqpChannel
	logger  *slog.Logger
	mu      sync.Mutex
}

// DialAMQP connects to url, opens a channel and declares the exchange.
func DialAMQP(url string, logger *slog.Logger) (*AMQPNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp notifier: AMQP_URL is required")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	n := newAMQPNotifier(ch, logger)
	n.conn = conn
	n.logger.Info("amqp notifier ready", "exchange", Exchange)
	return n, nil
}

func newAMQPNotifier(ch amqpChannel, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{channel: ch, logger: logger.With("component", "notifier", "backend", BackendAMQP)}
}

// NotifyReviewers publishes a persistent access_request.created message.
func (n *AMQPNotifier) NotifyReviewers(ctx context.Context, req domain.AccessRequest) error {
	body, err := encode(req)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.channel.PublishWithContext(ctx, Exchange, EventRequestCreated, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    req.ID,
		Body:         body,
		Headers: amqp091.Table{
			"event_type": EventRequestCreated,
			"tenant_id":  req.TenantID,
			"subject_id": req.SubjectID,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventRequestCreated, err)
	}
	n.logger.Debug("published reviewer event", "request_id", req.ID)
	return nil
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() error {
	var firstErr error
	if n.channel != nil {
		firstErr = n.channel.Close()
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
