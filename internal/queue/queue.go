package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
)

const (
	ExportQueueName = "library_exports"
	ExchangeName    = "bunnystream"
)

// ExportMessage asks a worker to run one export job
type ExportMessage struct {
	ExportID  string `json:"exportId"`
	LibraryID int64  `json:"libraryId"`
}

// Handler processes one export message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg *ExportMessage) error

// DeadLetterHandler is told about exports parked in the dead letter queue
type DeadLetterHandler func(ctx context.Context, msg *ExportMessage, reason string) error

// publisher is the part of *amqp.Channel used to send messages
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Queue provides message queue operations
type Queue struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	prefetch int
	logger   *logging.Logger

	onDeadLetter DeadLetterHandler
}

// New connects to RabbitMQ and declares the export topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Queue{
		conn:     conn,
		channel:  channel,
		pub:      channel,
		prefetch: prefetch,
		logger:   logger.WithComponent("queue"),
	}, nil
}

func declareTopology(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := setupDeadLetterQueue(channel); err != nil {
		return err
	}

	// rejected messages go straight to the dead letter exchange
	_, err = channel.QueueDeclare(
		ExportQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchangeName,
			"x-dead-letter-routing-key": DeadLetterQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		ExportQueueName,
		ExportQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// OnDeadLetter registers fn to run after an export is dead-lettered
func (q *Queue) OnDeadLetter(fn DeadLetterHandler) {
	q.onDeadLetter = fn
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func encode(msg *ExportMessage, headers amqp.Table) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal export message: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.ExportID,
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      headers,
	}, nil
}

// PublishExport queues an export job
func (q *Queue) PublishExport(ctx context.Context, msg *ExportMessage) error {
	publishing, err := encode(msg, nil)
	if err != nil {
		return err
	}

	err = q.pub.PublishWithContext(ctx,
		ExchangeName,
		ExportQueueName,
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("failed to publish export: %w", err)
	}
	return nil
}

// ConsumeExports processes export messages until ctx is cancelled or the
// channel closes. Messages are handled one at a time.
func (q *Queue) ConsumeExports(ctx context.Context, handler Handler) error {
	err := q.channel.Qos(
		q.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		ExportQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("export delivery channel closed")
			}
			q.handle(ctx, msg, handler)
		}
	}
}

// handle runs the handler for one delivery. Undecodable messages are rejected
// to the dead letter queue; handler failures are retried with backoff.
func (q *Queue) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg ExportMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.ExportID == "" {
		q.logger.WithField("message_id", d.MessageId).Warn("Rejecting malformed export message")
		d.Nack(false, false)
		return
	}

	logger := q.logger.WithExportID(msg.ExportID)
	if err := handler(ctx, &msg); err != nil {
		attempt := retryCount(d.Headers)
		logger.WithError(err).WithField("attempt", attempt+1).Warn("Export handler failed")

		if err := q.PublishToRetryQueue(ctx, &msg, attempt); err != nil {
			logger.WithError(err).Error("Failed to schedule export retry")
			d.Nack(false, true)
			return
		}
	}
	d.Ack(false)
}

// Depth returns the number of messages waiting in the export queue
func (q *Queue) Depth() (int, error) {
	info, err := q.channel.QueueInspect(ExportQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
