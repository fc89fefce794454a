package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cloudmon/platform/pkg/common/logger"
)

const (
	maxHandlerAttempts = 3
	handlerRetryDelay  = 2 * time.Second
)

type Consumer struct {
	reader *kafka.Reader
}

// MessageHandler processes one fetched message. A failing message is retried
// in place a bounded number of times; once exhausted its offset is committed
// and the message is skipped, so handlers must treat delivery as at-most-once
// past that point.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.WithError(err).Error("failed to fetch message")
				continue
			}

			if err := handleWithRetry(ctx, handler, msg, handlerRetryDelay); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Error("giving up on message after retries")
				// Commit anyway. Leaving the offset dangling only skips the
				// message silently once a later commit advances the group.
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Log.WithError(err).Error("failed to commit message")
			}
		}
	}
}

// handleWithRetry gives a transiently failing handler a few in-place
// attempts before the message is given up on.
func handleWithRetry(ctx context.Context, handler MessageHandler, msg kafka.Message, delay time.Duration) error {
	var err error
	for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		if attempt == maxHandlerAttempts {
			break
		}
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"offset":  msg.Offset,
			"attempt": attempt,
		}).Warn("retrying message")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
