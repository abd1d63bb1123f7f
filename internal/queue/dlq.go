package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterQueueName    = "library_exports_dlq"
	DeadLetterExchangeName = "bunnystream_dlq"
	RetryQueueName         = "library_exports_retry"
	MaxRetries             = 3
)

// setupDeadLetterQueue declares the dead letter exchange and queue and the
// retry queue, whose expired messages flow back into the export queue.
func setupDeadLetterQueue(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	_, err = channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    ExchangeName,
			"x-dead-letter-routing-key": ExportQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// retryCount reads the x-retry-count header of a delivery
func retryCount(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// PublishToRetryQueue re-queues an export after a backoff delay, or moves it
// to the dead letter queue once MaxRetries is reached.
func (q *Queue) PublishToRetryQueue(ctx context.Context, msg *ExportMessage, attempt int) error {
	if attempt >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, msg, "max retries exceeded")
	}

	delay := calculateBackoffDelay(attempt)
	publishing, err := encode(msg, amqp.Table{"x-retry-count": int32(attempt + 1)})
	if err != nil {
		return err
	}
	publishing.Expiration = fmt.Sprintf("%d", delay.Milliseconds())

	if err := q.pub.PublishWithContext(ctx, "", RetryQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithExportID(msg.ExportID).WithField("retry", attempt+1).WithField("delay", delay.String()).Info("Export queued for retry")
	return nil
}

// PublishToDeadLetterQueue parks an export that cannot be processed and
// reports it to the OnDeadLetter handler.
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, msg *ExportMessage, reason string) error {
	publishing, err := encode(msg, amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := q.pub.PublishWithContext(ctx, DeadLetterExchangeName, DeadLetterQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	logger := q.logger.WithExportID(msg.ExportID)
	logger.WithField("reason", reason).Warn("Export moved to dead letter queue")

	if q.onDeadLetter != nil {
		if err := q.onDeadLetter(ctx, msg, reason); err != nil {
			logger.WithError(err).Error("Dead letter handler failed")
		}
	}
	return nil
}

// calculateBackoffDelay doubles from 30s per attempt, capped at 10 minutes
func calculateBackoffDelay(attempt int) time.Duration {
	delay := 30 * time.Second * (1 << attempt)
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}

// DLQDepth returns the number of messages in the dead letter queue
func (q *Queue) DLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}
