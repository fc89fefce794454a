package notification

import (
	"context"
	"encoding/json"
	"fmt"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// Deliverer routes one message to its channel handler.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// DeliveryRecorder persists the audit trail of handled messages.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, msg Message, status Status, errMsg string) error
}

// Consumer processes the notification topic exactly once per message
// fingerprint. A returned error makes the consumer loop retry the message in
// place; replays after the attempt budget hit the dedup cache and are skipped.
type Consumer struct {
	deliverer Deliverer
	dedup     Deduplicator
	recorder  DeliveryRecorder
}

func NewConsumer(deliverer Deliverer, dedup Deduplicator, recorder DeliveryRecorder) *Consumer {
	return &Consumer{deliverer: deliverer, dedup: dedup, recorder: recorder}
}

// HandleMessage is plugged into the Kafka consumer loop.
func (c *Consumer) HandleMessage(ctx context.Context, m segkafka.Message) error {
	logger.Log.WithFields(logrus.Fields{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	}).Info("consuming notification message")

	payload, err := unescape(m.Value)
	if err != nil {
		return fmt.Errorf("unescaping message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding notification message: %w", err)
	}

	id := msg.Fingerprint()
	processed, err := c.dedup.IsProcessed(ctx, id)
	if err != nil {
		return fmt.Errorf("checking dedup state: %w", err)
	}
	if processed {
		logger.Log.WithField("fingerprint", id).Info("skipping already processed notification")
		return nil
	}

	if err := c.deliverer.Deliver(ctx, msg); err != nil {
		if recErr := c.recorder.RecordDelivery(ctx, msg, StatusFailed, err.Error()); recErr != nil {
			logger.Log.WithError(recErr).Error("failed to record delivery failure")
		}
		return fmt.Errorf("delivering notification: %w", err)
	}

	if err := c.recorder.RecordDelivery(ctx, msg, StatusSent, ""); err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return c.dedup.MarkProcessed(ctx, id)
}

// unescape unwraps payloads that arrive as a JSON-encoded string rather
// than a bare object.
func unescape(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return raw, nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, err
	}
	return []byte(inner), nil
}
