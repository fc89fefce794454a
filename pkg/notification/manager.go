package notification

import (
	"context"
	"fmt"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/executor"
	"github.com/cloudmon/platform/pkg/processing"
)

// Handler delivers one message over a single channel.
type Handler interface {
	Type() Type
	Handle(ctx context.Context, msg Message) error
}

// Manager owns the rule registry and the delivery handlers. Rules run in
// registration order; a rule that fails is logged and skipped so the others
// still run.
type Manager struct {
	rules    []Rule
	handlers map[Type]Handler
	pool     *executor.Pool
}

func NewManager(pool *executor.Pool, rules ...Rule) *Manager {
	return &Manager{
		rules:    rules,
		handlers: make(map[Type]Handler),
		pool:     pool,
	}
}

func (m *Manager) RegisterHandler(h Handler) {
	m.handlers[h.Type()] = h
}

// FileProcessed reacts to a completed upload by scheduling a rule sweep on
// the notification pool. A saturated pool drops the sweep; the periodic
// scheduler picks the work up on its next tick.
func (m *Manager) FileProcessed(ctx context.Context, c processing.Completion) {
	log := logger.Log.WithField("file_hash", c.FileHash)
	log.Info("scheduling notification rules after file processing")

	err := m.pool.Submit(c.FileHash, func() {
		m.RunAllRules(context.Background())
	})
	if err != nil {
		log.WithError(err).Error("failed to schedule notification rules")
	}
}

// RunAllRules evaluates every registered rule, isolating failures.
func (m *Manager) RunAllRules(ctx context.Context) {
	logger.Log.WithField("rules", len(m.rules)).Info("processing notification rules")
	for _, rule := range m.rules {
		m.runRule(ctx, rule)
	}
	logger.Log.Info("completed processing notification rules")
}

// runRule contains a single rule's failure, panics included, so one broken
// rule cannot take down the sweep or its worker.
func (m *Manager) runRule(ctx context.Context, rule Rule) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithField("rule", rule.Description()).
				Errorf("notification rule panicked: %v", r)
		}
	}()
	if err := rule.Evaluate(ctx); err != nil {
		logger.Log.WithError(err).WithField("rule", rule.Description()).
			Error("notification rule failed")
	}
}

// Deliver routes a message to the handler for its type.
func (m *Manager) Deliver(ctx context.Context, msg Message) error {
	handler, ok := m.handlers[msg.Type]
	if !ok {
		return fmt.Errorf("no handler registered for notification type %q", msg.Type)
	}
	return handler.Handle(ctx, msg)
}
