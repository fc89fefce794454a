package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// ErrPoolSaturated is returned by Submit when the queue is full and no more
// workers may be started. Callers must handle it explicitly; tasks are never
// run inline on the submitting goroutine.
var ErrPoolSaturated = errors.New("task queue is full")

type task struct {
	fn            func()
	correlationID string
}

// Pool is a bounded task executor: coreSize workers run permanently, up to
// maxSize workers exist while the queue is backed up, and surplus workers
// exit after keepAlive of idleness. The queue itself is bounded; a Submit
// that finds the queue full and the pool at maxSize is rejected.
type Pool struct {
	name      string
	core      int
	max       int
	keepAlive time.Duration

	queue chan task
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	workers int

	active    int64
	completed uint64
}

// Stats is a point-in-time snapshot for the housekeeping monitor.
type Stats struct {
	Name       string
	Workers    int
	Active     int
	QueueDepth int
	Completed  uint64
}

func NewPool(name string, coreSize, maxSize, queueCapacity int, keepAlive time.Duration) *Pool {
	if coreSize <= 0 {
		coreSize = 1
	}
	if maxSize < coreSize {
		maxSize = coreSize
	}
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}

	p := &Pool{
		name:      name,
		core:      coreSize,
		max:       maxSize,
		keepAlive: keepAlive,
		queue:     make(chan task, queueCapacity),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	for i := 0; i < p.core; i++ {
		p.startWorker(false, nil)
	}
	p.mu.Unlock()

	return p
}

// Submit enqueues fn for asynchronous execution. The correlation id is used
// for diagnostics only; it carries no resumption semantics. Returns
// ErrPoolSaturated when the queue is full and the pool cannot grow.
func (p *Pool) Submit(correlationID string, fn func()) error {
	select {
	case <-p.done:
		return fmt.Errorf("%s: pool is shut down", p.name)
	default:
	}

	t := task{fn: fn, correlationID: correlationID}

	select {
	case p.queue <- t:
		return nil
	default:
	}

	// Queue is full: grow towards maxSize before rejecting. The new surplus
	// worker takes the task directly so a full queue cannot reject it.
	p.mu.Lock()
	if p.workers < p.max {
		p.startWorker(true, &t)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"pool":           p.name,
		"correlation_id": correlationID,
	}).Error("task rejected, pool saturated")
	return fmt.Errorf("%s: %w", p.name, ErrPoolSaturated)
}

// startWorker must be called with p.mu held.
func (p *Pool) startWorker(surplus bool, first *task) {
	p.workers++
	p.wg.Add(1)
	go p.run(surplus, first)
}

func (p *Pool) run(surplus bool, first *task) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	if first != nil {
		p.exec(*first)
	}

	for {
		if surplus {
			idle := time.NewTimer(p.keepAlive)
			select {
			case t := <-p.queue:
				idle.Stop()
				p.exec(t)
			case <-idle.C:
				return
			case <-p.done:
				idle.Stop()
				return
			}
		} else {
			select {
			case t := <-p.queue:
				p.exec(t)
			case <-p.done:
				return
			}
		}
	}
}

func (p *Pool) exec(t task) {
	atomic.AddInt64(&p.active, 1)
	defer func() {
		atomic.AddInt64(&p.active, -1)
		atomic.AddUint64(&p.completed, 1)
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"pool":           p.name,
				"correlation_id": t.correlationID,
				"panic":          r,
			}).Error("task panicked")
		}
	}()
	t.fn()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return Stats{
		Name:       p.name,
		Workers:    workers,
		Active:     int(atomic.LoadInt64(&p.active)),
		QueueDepth: len(p.queue),
		Completed:  atomic.LoadUint64(&p.completed),
	}
}

// Shutdown stops accepting work and waits for in-flight tasks to finish or
// the timeout to elapse. Queued tasks that never started are dropped; the
// failed-job retry sweep picks the associated work up again.
func (p *Pool) Shutdown(timeout time.Duration) {
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		logger.Log.WithField("pool", p.name).Warn("shutdown timed out with tasks still running")
	}
}
