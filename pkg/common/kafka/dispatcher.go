package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cloudmon/platform/pkg/common/config"
	"github.com/cloudmon/platform/pkg/common/logger"
)

// DeadLetterSuffix is appended to the original topic name when a message has
// exhausted all delivery attempts.
const DeadLetterSuffix = ".DLT"

const (
	defaultInitialDelay = 100 * time.Millisecond
	defaultMultiplier   = 2.0
	defaultCap          = 5 * time.Minute
)

// Transport is the broker write surface the dispatcher retries over.
// *kafka.Writer satisfies it.
type Transport interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ExhaustedError resolves a send whose every attempt failed. The message has
// already been routed to the dead-letter topic by the time callers see it.
type ExhaustedError struct {
	Topic    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("send to topic %q failed after %d attempts: %v", e.Topic, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// SendResult resolves asynchronously with nil on delivery or a terminal error
// on serialization failure / retry exhaustion.
type SendResult struct {
	ch chan error
}

func newSendResult() *SendResult { return &SendResult{ch: make(chan error, 1)} }

func (r *SendResult) resolve(err error) { r.ch <- err }

// Wait blocks until the send resolves or ctx is done.
func (r *SendResult) Wait(ctx context.Context) error {
	select {
	case err := <-r.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher publishes JSON payloads with bounded exponential-backoff retry
// and a dead-letter fallback. Backoff waits are scheduled timer callbacks;
// no caller goroutine ever sleeps through one.
type Dispatcher struct {
	transport    Transport
	attempts     int
	initialDelay time.Duration
	multiplier   float64
	cap          time.Duration
}

func NewDispatcher(brokers []string, retry config.RetryConfig) *Dispatcher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewDispatcherWithTransport(writer, retry)
}

func NewDispatcherWithTransport(transport Transport, retry config.RetryConfig) *Dispatcher {
	d := &Dispatcher{
		transport:    transport,
		attempts:     retry.Attempts,
		initialDelay: retry.InitialDelay,
		multiplier:   retry.Multiplier,
		cap:          retry.Cap,
	}
	if d.attempts <= 0 {
		d.attempts = 3
	}
	if d.initialDelay <= 0 {
		d.initialDelay = defaultInitialDelay
	}
	if d.multiplier <= 0 {
		d.multiplier = defaultMultiplier
	}
	if d.cap <= 0 {
		d.cap = defaultCap
	}
	return d
}

// Send serializes payload and publishes it to topic under the given partition
// key. The returned SendResult resolves once the message is delivered, or
// once all attempts are used and the message has been dead-lettered.
func (d *Dispatcher) Send(ctx context.Context, topic, key string, payload interface{}) *SendResult {
	result := newSendResult()

	value, err := json.Marshal(payload)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"topic": topic,
			"key":   key,
		}).Error("failed to serialize message")
		result.resolve(err)
		return result
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	go d.attempt(ctx, msg, 0, result)

	return result
}

func (d *Dispatcher) attempt(ctx context.Context, msg kafka.Message, n int, result *SendResult) {
	logger.Log.WithFields(map[string]interface{}{
		"topic":   msg.Topic,
		"key":     string(msg.Key),
		"attempt": fmt.Sprintf("%d/%d", n+1, d.attempts),
	}).Debug("sending message")

	err := d.transport.WriteMessages(ctx, msg)
	if err == nil {
		result.resolve(nil)
		return
	}

	logger.Log.WithError(err).WithFields(map[string]interface{}{
		"topic":   msg.Topic,
		"key":     string(msg.Key),
		"attempt": fmt.Sprintf("%d/%d", n+1, d.attempts),
	}).Error("failed to send message")

	if n+1 < d.attempts {
		delay := d.backoff(n)
		logger.Log.WithFields(map[string]interface{}{
			"topic":    msg.Topic,
			"delay_ms": delay.Milliseconds(),
		}).Info("scheduling retry")

		time.AfterFunc(delay, func() {
			d.attempt(ctx, msg, n+1, result)
		})
		return
	}

	d.deadLetter(ctx, msg, err)
	result.resolve(&ExhaustedError{Topic: msg.Topic, Attempts: d.attempts, Err: err})
}

// backoff returns min(initialDelay * multiplier^n, cap).
func (d *Dispatcher) backoff(n int) time.Duration {
	delay := time.Duration(float64(d.initialDelay) * math.Pow(d.multiplier, float64(n)))
	if delay > d.cap || delay <= 0 {
		delay = d.cap
	}
	return delay
}

func (d *Dispatcher) Close() error {
	if c, ok := d.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	dlt := msg.Topic + DeadLetterSuffix

	dead := kafka.Message{
		Topic: dlt,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "error-message", Value: []byte(cause.Error())},
			{Key: "original-topic", Value: []byte(msg.Topic)},
			{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	if err := d.transport.WriteMessages(ctx, dead); err != nil {
		logger.Log.WithError(err).WithField("topic", dlt).Error("failed to publish to dead letter topic")
		return
	}

	logger.Log.WithField("topic", dlt).Info("message published to dead letter topic")
}
