package processing

import (
	"context"
	"time"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/executor"
)

// PoolScheduler submits processing jobs to the bounded file pool. A
// saturated pool surfaces as executor.ErrPoolSaturated to the caller.
type PoolScheduler struct {
	pool      *executor.Pool
	processor *Processor
	timeout   time.Duration
}

func NewPoolScheduler(pool *executor.Pool, processor *Processor, timeout time.Duration) *PoolScheduler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &PoolScheduler{pool: pool, processor: processor, timeout: timeout}
}

func (s *PoolScheduler) Schedule(jobID string) error {
	return s.pool.Submit(jobID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.processor.Process(ctx, jobID); err != nil {
			logger.Log.WithError(err).WithField("job_id", jobID).Error("processing job failed")
		}
	})
}
