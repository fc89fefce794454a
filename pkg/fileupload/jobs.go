package fileupload

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// JobStore is the slice of the repository the ledger needs. JobTransaction
// must run the callback's writes atomically; the ledger relies on it so a job
// and its upload never end up in mismatched terminal states.
type JobStore interface {
	FindJobByID(ctx context.Context, id string) (*JobExecution, error)
	UpdateJob(ctx context.Context, job *JobExecution) error
	UpdateUploadStatus(ctx context.Context, id string, status UploadStatus, reason string) error
	UpdateUploadCounts(ctx context.Context, id string, total, valid, invalid int) error
	JobTransaction(ctx context.Context, fn func(tx JobStore) error) error
}

// Ledger drives the job state machine and keeps the owning upload's status
// in step with it. Each transition commits the job and upload writes in one
// transaction.
type Ledger struct {
	store JobStore
}

func NewLedger(store JobStore) *Ledger {
	return &Ledger{store: store}
}

func transition(ctx context.Context, tx JobStore, jobID string, to JobStatus, errMsg string) (*JobExecution, error) {
	job, err := tx.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := ValidateJobTransition(job.Status, to); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	now := time.Now().UTC()
	job.Status = to
	switch to {
	case JobProcessing:
		job.StartedAt = &now
		job.FinishedAt = nil
		job.ErrorMessage = ""
	case JobCompleted:
		job.FinishedAt = &now
	case JobFailed:
		job.FinishedAt = &now
		job.ErrorMessage = errMsg
	case JobPending:
		job.StartedAt = nil
		job.FinishedAt = nil
		job.ErrorMessage = ""
	}

	if err := tx.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job %s: %w", jobID, err)
	}
	logger.Log.WithField("job_id", jobID).WithField("status", to).Info("job transition")
	return job, nil
}

// Start moves a pending job into PROCESSING and marks the upload accordingly.
func (l *Ledger) Start(ctx context.Context, jobID string) (*JobExecution, error) {
	var job *JobExecution
	err := l.store.JobTransaction(ctx, func(tx JobStore) error {
		var err error
		if job, err = transition(ctx, tx, jobID, JobProcessing, ""); err != nil {
			return err
		}
		return tx.UpdateUploadStatus(ctx, job.FileUploadID, UploadProcessing, "")
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks the job and its upload COMPLETED and records the row counts,
// all in one transaction.
func (l *Ledger) Complete(ctx context.Context, jobID string, total, valid, invalid int) (*JobExecution, error) {
	var job *JobExecution
	err := l.store.JobTransaction(ctx, func(tx JobStore) error {
		var err error
		if job, err = transition(ctx, tx, jobID, JobCompleted, ""); err != nil {
			return err
		}
		if err := tx.UpdateUploadCounts(ctx, job.FileUploadID, total, valid, invalid); err != nil {
			return err
		}
		return tx.UpdateUploadStatus(ctx, job.FileUploadID, UploadCompleted, "")
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (l *Ledger) Fail(ctx context.Context, jobID string, reason string) (*JobExecution, error) {
	var job *JobExecution
	err := l.store.JobTransaction(ctx, func(tx JobStore) error {
		var err error
		if job, err = transition(ctx, tx, jobID, JobFailed, reason); err != nil {
			return err
		}
		return tx.UpdateUploadStatus(ctx, job.FileUploadID, UploadFailed, reason)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Rearm resets a failed job to PENDING so the retry sweep can schedule it
// again. Only FAILED jobs may be re-armed.
func (l *Ledger) Rearm(ctx context.Context, jobID string) (*JobExecution, error) {
	var job *JobExecution
	err := l.store.JobTransaction(ctx, func(tx JobStore) error {
		var err error
		if job, err = transition(ctx, tx, jobID, JobPending, ""); err != nil {
			return err
		}
		return tx.UpdateUploadStatus(ctx, job.FileUploadID, UploadPending, "")
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
