package notification

import (
	"context"
	"fmt"

	"github.com/cloudmon/platform/pkg/common/kafka"
	"github.com/cloudmon/platform/pkg/common/logger"
)

// TopicPublisher queues messages on the notification topic through the
// retrying dispatcher. Publish does not wait for broker acknowledgement;
// exhausted sends end up on the dead letter topic.
type TopicPublisher struct {
	dispatcher *kafka.Dispatcher
	topic      string
}

func NewTopicPublisher(dispatcher *kafka.Dispatcher, topic string) *TopicPublisher {
	return &TopicPublisher{dispatcher: dispatcher, topic: topic}
}

func (p *TopicPublisher) Publish(ctx context.Context, key string, msg Message) error {
	logger.Log.WithField("customer_id", key).WithField("topic", p.topic).
		Info("queuing notification message")
	p.dispatcher.Send(ctx, p.topic, key, msg)
	return nil
}

// KafkaHandler forwards KAFKA notifications to their recipient topic, e.g.
// the customer-expired alert topic, and waits for the outcome so consumer
// offsets only advance after a confirmed hand-off.
type KafkaHandler struct {
	dispatcher *kafka.Dispatcher
}

func NewKafkaHandler(dispatcher *kafka.Dispatcher) *KafkaHandler {
	return &KafkaHandler{dispatcher: dispatcher}
}

func (h *KafkaHandler) Type() Type { return TypeKafka }

func (h *KafkaHandler) Handle(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("kafka notification for customer %s has no recipient topic", msg.CustomerID)
	}
	result := h.dispatcher.Send(ctx, msg.Recipient, msg.CustomerID, msg)
	if err := result.Wait(ctx); err != nil {
		return fmt.Errorf("forwarding alert for customer %s: %w", msg.CustomerID, err)
	}
	logger.Log.WithField("customer_id", msg.CustomerID).WithField("topic", msg.Recipient).
		Info("alert forwarded")
	return nil
}
