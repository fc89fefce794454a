package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cloudmon/platform/pkg/common/config"
	"github.com/cloudmon/platform/pkg/common/logger"
)

func init() {
	logger.Init()
}

type recordingTransport struct {
	mu       sync.Mutex
	messages []kafkago.Message
	failFor  func(topic string) error
}

func (t *recordingTransport) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if t.failFor != nil {
			if err := t.failFor(m.Topic); err != nil {
				return err
			}
		}
		t.messages = append(t.messages, m)
	}
	return nil
}

func (t *recordingTransport) byTopic(topic string) []kafkago.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []kafkago.Message
	for _, m := range t.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		Attempts:     attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		Cap:          10 * time.Millisecond,
	}
}

func TestSendResolvesOnFirstSuccess(t *testing.T) {
	transport := &recordingTransport{}
	d := NewDispatcherWithTransport(transport, fastRetry(3))

	res := d.Send(context.Background(), "notifications", "CUST001", map[string]string{"hello": "world"})
	if err := res.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	sent := transport.byTopic("notifications")
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if string(sent[0].Key) != "CUST001" {
		t.Errorf("unexpected partition key %q", sent[0].Key)
	}
}

func TestSendRetriesThenDeadLetters(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	transport := &recordingTransport{}
	transport.failFor = func(topic string) error {
		if strings.HasSuffix(topic, DeadLetterSuffix) {
			return nil
		}
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("broker unavailable")
	}

	d := NewDispatcherWithTransport(transport, fastRetry(3))

	res := d.Send(context.Background(), "notifications", "CUST001", map[string]string{"body": "x"})

	err := res.Wait(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Topic != "notifications" || exhausted.Attempts != 3 {
		t.Errorf("unexpected error detail: %+v", exhausted)
	}

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected exactly 3 send attempts, got %d", got)
	}

	dead := transport.byTopic("notifications" + DeadLetterSuffix)
	if len(dead) != 1 {
		t.Fatalf("expected exactly 1 dead letter publish, got %d", len(dead))
	}

	headers := map[string]string{}
	for _, h := range dead[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["original-topic"] != "notifications" {
		t.Errorf("original-topic header = %q", headers["original-topic"])
	}
	if headers["error-message"] == "" {
		t.Error("error-message header missing")
	}
	if headers["timestamp"] == "" {
		t.Error("timestamp header missing")
	}
	if string(dead[0].Value) != `{"body":"x"}` {
		t.Errorf("dead letter must carry the original payload, got %s", dead[0].Value)
	}
}

func TestSendResolvesSerializationFailureImmediately(t *testing.T) {
	transport := &recordingTransport{}
	d := NewDispatcherWithTransport(transport, fastRetry(3))

	res := d.Send(context.Background(), "notifications", "k", func() {})
	if err := res.Wait(context.Background()); err == nil {
		t.Fatal("expected serialization error")
	}
	if len(transport.byTopic("notifications")) != 0 {
		t.Fatal("unserializable payload must not be sent")
	}
}

func TestBackoffGrowsAndClamps(t *testing.T) {
	d := NewDispatcherWithTransport(&recordingTransport{}, config.RetryConfig{
		Attempts:     5,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		Cap:          300 * time.Millisecond,
	})

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond}, // 400ms clamped to cap
		{10, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := d.backoff(tc.n); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestNonPositiveRetryConfigFallsBackToDefaults(t *testing.T) {
	d := NewDispatcherWithTransport(&recordingTransport{}, config.RetryConfig{})

	if d.attempts != 3 {
		t.Errorf("attempts = %d, want default 3", d.attempts)
	}
	if d.initialDelay != defaultInitialDelay {
		t.Errorf("initialDelay = %v, want %v", d.initialDelay, defaultInitialDelay)
	}
	if d.multiplier != defaultMultiplier {
		t.Errorf("multiplier = %v, want %v", d.multiplier, defaultMultiplier)
	}
	if d.cap != defaultCap {
		t.Errorf("cap = %v, want %v", d.cap, defaultCap)
	}
}
