package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudmon/platform/pkg/cloudservice"
)

type fakeSource struct {
	active     []cloudservice.CloudService
	activeErr  error
	expired    map[string][]cloudservice.ExpiredService
	expiredErr error
}

func (f *fakeSource) ActiveServicesOlderThan(ctx context.Context, years int) ([]cloudservice.CloudService, error) {
	return f.active, f.activeErr
}

func (f *fakeSource) CustomersWithExpiredMoreThan(ctx context.Context, threshold int) (map[string][]cloudservice.ExpiredService, error) {
	return f.expired, f.expiredErr
}

type fakePublisher struct {
	published []Message
	keys      []string
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, key string, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func TestActiveServiceRuleQueuesOneEmailPerService(t *testing.T) {
	source := &fakeSource{active: []cloudservice.CloudService{
		{CustomerID: "C1", ServiceType: cloudservice.TypePEC, ActivationDate: time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC)},
		{CustomerID: "C2", ServiceType: cloudservice.TypeHosting, ActivationDate: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	pub := &fakePublisher{}

	rule := NewActiveServiceOlderThanRule(source, pub, DefaultRules())
	if err := rule.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(pub.published) != 2 {
		t.Fatalf("expected 2 queued messages, got %d", len(pub.published))
	}
	first := pub.published[0]
	if first.Type != TypeEmail {
		t.Fatalf("expected EMAIL notification, got %s", first.Type)
	}
	if first.Recipient != DefaultRules().ActiveServiceOlderThan.Email.Recipient {
		t.Fatalf("unexpected recipient: %s", first.Recipient)
	}
	if !strings.Contains(first.Content, "active since 2018-03-01") {
		t.Fatalf("unexpected content: %s", first.Content)
	}
	if pub.keys[0] != "C1" || pub.keys[1] != "C2" {
		t.Fatalf("messages must be keyed by customer, got %v", pub.keys)
	}
}

func TestExpiredServicesRuleAggregatesPerCustomer(t *testing.T) {
	source := &fakeSource{expired: map[string][]cloudservice.ExpiredService{
		"C9": {
			{CustomerID: "C9", ServiceType: cloudservice.TypePEC, ExpirationDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{CustomerID: "C9", ServiceType: cloudservice.TypeSPID, ExpirationDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
			{CustomerID: "C9", ServiceType: cloudservice.TypeHosting, ExpirationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{CustomerID: "C9", ServiceType: cloudservice.TypeSPID, ExpirationDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		},
	}}
	pub := &fakePublisher{}

	rule := NewExpiredServicesRule(source, pub, DefaultRules(), "alerts.customer.expired")
	if err := rule.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected one aggregated alert, got %d", len(pub.published))
	}
	alert := pub.published[0]
	if alert.Type != TypeKafka {
		t.Fatalf("expected KAFKA notification, got %s", alert.Type)
	}
	if alert.Recipient != "alerts.customer.expired" {
		t.Fatalf("alert must target the expired topic, got %s", alert.Recipient)
	}
	if !strings.Contains(alert.Content, "Customer C9 has 4 expired services") {
		t.Fatalf("unexpected content: %s", alert.Content)
	}
	if !strings.Contains(alert.Content, "service `PEC` expiration date: `2024-01-01`") {
		t.Fatalf("expected per-service summary, got: %s", alert.Content)
	}
}

func TestExpiredServicesRuleNoOffenders(t *testing.T) {
	pub := &fakePublisher{}
	rule := NewExpiredServicesRule(&fakeSource{}, pub, DefaultRules(), "alerts")
	if err := rule.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected no alerts, got %d", len(pub.published))
	}
}

type flakyRule struct {
	err   error
	calls *int
}

func (r flakyRule) Description() string { return "flaky" }
func (r flakyRule) Evaluate(ctx context.Context) error {
	*r.calls++
	return r.err
}

func TestManagerIsolatesRuleFailures(t *testing.T) {
	first, second := 0, 0
	m := NewManager(nil,
		flakyRule{err: errors.New("boom"), calls: &first},
		flakyRule{err: nil, calls: &second},
	)

	m.RunAllRules(context.Background())

	if first != 1 || second != 1 {
		t.Fatalf("expected both rules to run, got %d and %d", first, second)
	}
}

type panickyRule struct{}

func (panickyRule) Description() string { return "panicky" }
func (panickyRule) Evaluate(ctx context.Context) error {
	var services []cloudservice.CloudService
	_ = services[3] // index out of range
	return nil
}

func TestManagerSurvivesPanickingRule(t *testing.T) {
	after := 0
	m := NewManager(nil,
		panickyRule{},
		flakyRule{err: nil, calls: &after},
	)

	m.RunAllRules(context.Background())

	if after != 1 {
		t.Fatalf("expected the rule after the panic to run, got %d calls", after)
	}
}

func TestManagerDeliverRoutesByType(t *testing.T) {
	m := NewManager(nil)
	delivered := []Message{}
	m.RegisterHandler(handlerFunc{t: TypeEmail, fn: func(msg Message) error {
		delivered = append(delivered, msg)
		return nil
	}})

	if err := m.Deliver(context.Background(), Message{Type: TypeEmail}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected handler call, got %d", len(delivered))
	}

	if err := m.Deliver(context.Background(), Message{Type: TypeKafka}); err == nil {
		t.Fatal("expected error for unregistered handler type")
	}
}

type handlerFunc struct {
	t  Type
	fn func(Message) error
}

func (h handlerFunc) Type() Type                                  { return h.t }
func (h handlerFunc) Handle(ctx context.Context, m Message) error { return h.fn(m) }
