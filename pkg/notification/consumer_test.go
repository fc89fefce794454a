package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
)

type fakeDeliverer struct {
	delivered []Message
	err       error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

type fakeRecorder struct {
	records []struct {
		msg    Message
		status Status
		errMsg string
	}
}

func (f *fakeRecorder) RecordDelivery(ctx context.Context, msg Message, status Status, errMsg string) error {
	f.records = append(f.records, struct {
		msg    Message
		status Status
		errMsg string
	}{msg, status, errMsg})
	return nil
}

func testMessage() Message {
	return Message{
		Type:       TypeEmail,
		CustomerID: "CUST001",
		Sender:     "noreply@cloudmon.io",
		Recipient:  "marketing@cloudmon.io",
		Subject:    "hello",
		Content:    "body",
		CreatedAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func kafkaMessageFor(t *testing.T, msg Message) segkafka.Message {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return segkafka.Message{Topic: "notifications", Value: payload}
}

func TestConsumerDeliversAndMarksProcessed(t *testing.T) {
	deliverer := &fakeDeliverer{}
	recorder := &fakeRecorder{}
	dedup := NewMemoryDeduplicator(time.Hour, 100)
	c := NewConsumer(deliverer, dedup, recorder)

	msg := testMessage()
	if err := c.HandleMessage(context.Background(), kafkaMessageFor(t, msg)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliverer.delivered))
	}
	if len(recorder.records) != 1 || recorder.records[0].status != StatusSent {
		t.Fatalf("expected one SENT audit record, got %+v", recorder.records)
	}
	if seen, _ := dedup.IsProcessed(context.Background(), msg.Fingerprint()); !seen {
		t.Fatal("expected fingerprint to be marked processed")
	}
}

func TestConsumerSkipsDuplicates(t *testing.T) {
	deliverer := &fakeDeliverer{}
	recorder := &fakeRecorder{}
	dedup := NewMemoryDeduplicator(time.Hour, 100)
	c := NewConsumer(deliverer, dedup, recorder)

	msg := testMessage()
	km := kafkaMessageFor(t, msg)

	if err := c.HandleMessage(context.Background(), km); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Redelivery of the same payload is acknowledged without a second
	// delivery.
	if err := c.HandleMessage(context.Background(), km); err != nil {
		t.Fatalf("duplicate must not error: %v", err)
	}

	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(deliverer.delivered))
	}
	if len(recorder.records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(recorder.records))
	}
}

func TestConsumerPropagatesDeliveryFailure(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("smtp down")}
	recorder := &fakeRecorder{}
	dedup := NewMemoryDeduplicator(time.Hour, 100)
	c := NewConsumer(deliverer, dedup, recorder)

	msg := testMessage()
	err := c.HandleMessage(context.Background(), kafkaMessageFor(t, msg))
	if err == nil {
		t.Fatal("expected delivery failure to propagate for redelivery")
	}

	// A failed delivery is audited but not marked processed, so the retry
	// is attempted again.
	if len(recorder.records) != 1 || recorder.records[0].status != StatusFailed {
		t.Fatalf("expected FAILED audit record, got %+v", recorder.records)
	}
	if seen, _ := dedup.IsProcessed(context.Background(), msg.Fingerprint()); seen {
		t.Fatal("failed message must stay unprocessed")
	}
}

func TestConsumerUnescapesStringWrappedPayload(t *testing.T) {
	deliverer := &fakeDeliverer{}
	recorder := &fakeRecorder{}
	c := NewConsumer(deliverer, NewMemoryDeduplicator(time.Hour, 100), recorder)

	msg := testMessage()
	inner, _ := json.Marshal(msg)
	wrapped, _ := json.Marshal(string(inner))

	err := c.HandleMessage(context.Background(), segkafka.Message{Value: wrapped})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(deliverer.delivered) != 1 || deliverer.delivered[0].CustomerID != "CUST001" {
		t.Fatalf("expected unwrapped message to be delivered, got %+v", deliverer.delivered)
	}
}

func TestConsumerRejectsMalformedPayload(t *testing.T) {
	c := NewConsumer(&fakeDeliverer{}, NewMemoryDeduplicator(time.Hour, 100), &fakeRecorder{})
	err := c.HandleMessage(context.Background(), segkafka.Message{Value: []byte("{not json")})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
