// Package scheduler runs the periodic background sweeps: re-arming failed
// jobs, evaluating notification rules and reporting pool health.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/executor"
	"github.com/cloudmon/platform/pkg/fileupload"
)

// JobSweepStore lists and re-arms failed jobs.
type JobSweepStore interface {
	fileupload.JobStore
	FindFailedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]fileupload.JobExecution, error)
}

// RuleRunner is satisfied by the notification manager.
type RuleRunner interface {
	RunAllRules(ctx context.Context)
}

// Scheduler drives its sweeps off plain tickers and stops them together.
type Scheduler struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	tasks  []task
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) register(name string, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 {
		logger.Log.WithField("task", name).Warn("sweep disabled, non-positive interval")
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: run})
}

// Start launches one goroutine per registered sweep. Call Stop to shut them
// down.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()

			logger.Log.WithFields(logrus.Fields{
				"task":     t.name,
				"interval": t.interval.String(),
			}).Info("sweep started")

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					t.run(ctx)
				}
			}
		}()
	}
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RegisterFailedJobRetry re-arms FAILED jobs and hands them back to the
// processing pool. Jobs must have sat failed for at least gracePeriod so a
// job is not retried while its failure is still being written.
func (s *Scheduler) RegisterFailedJobRetry(store JobSweepStore, sched fileupload.Scheduler, interval, gracePeriod time.Duration, batch int) {
	if batch < 1 {
		batch = 100
	}
	ledger := fileupload.NewLedger(store)

	s.register("failed-job-retry", interval, func(ctx context.Context) {
		logger.Log.Info("checking for failed jobs to retry")

		cutoff := time.Now().UTC().Add(-gracePeriod)
		jobs, err := store.FindFailedJobsBefore(ctx, cutoff, batch)
		if err != nil {
			logger.Log.WithError(err).Error("failed to list failed jobs")
			return
		}

		for _, job := range jobs {
			log := logger.Log.WithField("job_id", job.ID)
			log.Info("retrying job")

			if _, err := ledger.Rearm(ctx, job.ID); err != nil {
				log.WithError(err).Error("failed to re-arm job")
				continue
			}
			if err := sched.Schedule(job.ID); err != nil {
				log.WithError(err).Error("failed to reschedule job")
				if _, failErr := ledger.Fail(ctx, job.ID, "retry failed: "+err.Error()); failErr != nil {
					log.WithError(failErr).Error("failed to restore job failure")
				}
			}
		}
	})
}

// RegisterRuleSweep evaluates the notification rules periodically, catching
// state a completion-triggered run may have missed.
func (s *Scheduler) RegisterRuleSweep(runner RuleRunner, interval time.Duration) {
	s.register("notification-rule-sweep", interval, func(ctx context.Context) {
		runner.RunAllRules(ctx)
	})
}

// RegisterPoolMonitor logs a status line per pool.
func (s *Scheduler) RegisterPoolMonitor(interval time.Duration, pools ...*executor.Pool) {
	s.register("pool-monitor", interval, func(ctx context.Context) {
		for _, p := range pools {
			st := p.Stats()
			logger.Log.WithFields(logrus.Fields{
				"pool":        st.Name,
				"workers":     st.Workers,
				"active":      st.Active,
				"queue_depth": st.QueueDepth,
				"completed":   st.Completed,
			}).Info("pool status")
		}
	})
}
