package fileupload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/observability/metrics"
)

var (
	ErrValidation     = errors.New("file validation failed")
	ErrDuplicateFile  = errors.New("file has already been uploaded and processed")
	ErrFileInProgress = errors.New("file is currently being processed")
)

// UploadTx is the transactional slice of the repository used while accepting
// an upload.
type UploadTx interface {
	FindByHash(ctx context.Context, hash string) (*FileUpload, error)
	CreateUpload(ctx context.Context, upload *FileUpload) error
	CreateJob(ctx context.Context, job *JobExecution) error
	LatestJobForUpload(ctx context.Context, uploadID string) (*JobExecution, error)
	UpdateUploadStatus(ctx context.Context, id string, status UploadStatus, reason string) error
	UpdateUploader(ctx context.Context, id, uploader string) error
	SetStoragePath(ctx context.Context, id, path string) error
}

// UploadStore is the slice of the repository the acceptance flow needs.
type UploadStore interface {
	JobStore
	Transaction(ctx context.Context, fn func(tx UploadTx) error) error
	FindByHash(ctx context.Context, hash string) (*FileUpload, error)
	FindUploadByID(ctx context.Context, id string) (*FileUpload, error)
	LatestJobForUpload(ctx context.Context, uploadID string) (*JobExecution, error)
	JobsByFileHash(ctx context.Context, hash string, limit, offset int) ([]JobExecution, int64, error)
	ErrorsForUpload(ctx context.Context, uploadID string) ([]ProcessingError, error)
}

// Scheduler hands an accepted job to the asynchronous processing pool. A
// rejection means the pool is saturated.
type Scheduler interface {
	Schedule(jobID string) error
}

// Service accepts uploads into the ledger. All writes for one acceptance
// happen in a single transaction; the processing job is scheduled only after
// that transaction commits, so the worker always sees the persisted rows.
type Service struct {
	store     UploadStore
	files     FileStore
	validator *Validator
	scheduler Scheduler
}

func NewService(store UploadStore, files FileStore, validator *Validator, scheduler Scheduler) *Service {
	return &Service{store: store, files: files, validator: validator, scheduler: scheduler}
}

// Accept validates, deduplicates and records an upload, then schedules its
// processing job.
func (s *Service) Accept(ctx context.Context, fileName, uploader string, content []byte) (*AcceptResult, error) {
	if err := s.validator.Validate(fileName, content); err != nil {
		metrics.UploadRejected()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	hash := HashBytes(content)
	log := logger.Log.WithFields(logrus.Fields{
		"file_name":   fileName,
		"file_hash":   hash,
		"file_size":   len(content),
		"uploaded_by": uploader,
	})
	log.Info("accepting file upload")

	var result AcceptResult
	err := s.store.Transaction(ctx, func(tx UploadTx) error {
		upload, err := tx.FindByHash(ctx, hash)
		switch {
		case errors.Is(err, ErrUploadNotFound):
			upload, err = s.createUpload(ctx, tx, fileName, hash, uploader, int64(len(content)))
			if err != nil {
				return err
			}
			result.Outcome = OutcomeAccepted
		case err != nil:
			return err
		default:
			outcome, err := s.resolveExisting(ctx, tx, upload, uploader)
			if err != nil {
				return err
			}
			result.Outcome = outcome
		}

		job := &JobExecution{
			ID:           NewID(),
			FileUploadID: upload.ID,
			Status:       JobPending,
		}
		if err := tx.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}

		path, err := s.files.Save(ctx, hash+".csv", content)
		if err != nil {
			return fmt.Errorf("storing upload: %w", err)
		}
		if err := tx.SetStoragePath(ctx, upload.ID, path); err != nil {
			return err
		}

		result.UploadID = upload.ID
		result.FileName = fileName
		result.FileHash = hash
		result.JobID = job.ID
		result.JobStatus = job.Status
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateFile) || errors.Is(err, ErrFileInProgress) {
			metrics.UploadDuplicate()
		}
		return nil, err
	}
	metrics.UploadAccepted()

	// The transaction is committed at this point; hand the job to the pool.
	if err := s.scheduler.Schedule(result.JobID); err != nil {
		log.WithError(err).Warn("processing pool rejected job")
		s.failRejectedJob(ctx, result.JobID, err)
		return nil, fmt.Errorf("upload accepted but processing could not be scheduled: %w", err)
	}

	log.WithField("job_id", result.JobID).Info("upload accepted and job scheduled")
	return &result, nil
}

func (s *Service) createUpload(ctx context.Context, tx UploadTx, fileName, hash, uploader string, size int64) (*FileUpload, error) {
	upload := &FileUpload{
		ID:         NewID(),
		FileName:   fileName,
		FileHash:   hash,
		FileSize:   size,
		UploadedBy: uploader,
		Status:     UploadPending,
	}
	if err := tx.CreateUpload(ctx, upload); err != nil {
		if IsUniqueViolation(err) {
			// Another submission of the same content won the race.
			return nil, fmt.Errorf("%w: file was uploaded by another user in the meantime", ErrDuplicateFile)
		}
		return nil, fmt.Errorf("saving upload: %w", err)
	}
	return upload, nil
}

// resolveExisting applies the ledger rules to a hash collision: COMPLETED is
// a duplicate, PENDING and PROCESSING are in flight, FAILED and CANCELLED
// are reset for another attempt.
func (s *Service) resolveExisting(ctx context.Context, tx UploadTx, upload *FileUpload, uploader string) (AcceptOutcome, error) {
	switch upload.Status {
	case UploadCompleted:
		return "", fmt.Errorf("%w (file hash: %s, job: %s, uploaded at: %s)",
			ErrDuplicateFile, upload.FileHash, s.latestJobID(ctx, tx, upload.ID), upload.UploadedAt.Format(time.RFC3339))
	case UploadPending, UploadProcessing:
		return "", fmt.Errorf("%w (file hash: %s, job: %s, uploaded at: %s)",
			ErrFileInProgress, upload.FileHash, s.latestJobID(ctx, tx, upload.ID), upload.UploadedAt.Format(time.RFC3339))
	case UploadFailed, UploadCancelled:
		if err := tx.UpdateUploadStatus(ctx, upload.ID, UploadPending, ""); err != nil {
			return "", fmt.Errorf("resetting upload %s: %w", upload.ID, err)
		}
		if err := tx.UpdateUploader(ctx, upload.ID, uploader); err != nil {
			return "", fmt.Errorf("updating uploader on %s: %w", upload.ID, err)
		}
		upload.Status = UploadPending
		upload.UploadedBy = uploader
		return OutcomeRetryAccepted, nil
	default:
		return "", fmt.Errorf("upload %s has unknown status %s", upload.ID, upload.Status)
	}
}

// latestJobID resolves the most recent job for duplicate/in-flight error
// messages. Best effort; an upload created before jobs existed has none.
func (s *Service) latestJobID(ctx context.Context, tx UploadTx, uploadID string) string {
	job, err := tx.LatestJobForUpload(ctx, uploadID)
	if err != nil {
		return "unknown"
	}
	return job.ID
}

// failRejectedJob records a pool rejection in its own transaction so the
// failure survives even though the acceptance already committed.
func (s *Service) failRejectedJob(ctx context.Context, jobID string, cause error) {
	ledger := NewLedger(s.store)
	if _, err := ledger.Fail(ctx, jobID, cause.Error()); err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).
			Error("failed to mark rejected job as failed")
	}
}

// JobStatusView is the state of one job together with its upload counters.
type JobStatusView struct {
	JobID        string     `json:"job_id"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	FileHash     string     `json:"file_hash"`
	FileName     string     `json:"file_name"`
	TotalRows    int        `json:"total_rows"`
	ValidRows    int        `json:"valid_rows"`
	InvalidRows  int        `json:"invalid_rows"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (s *Service) JobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := s.store.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	upload, err := s.store.FindUploadByID(ctx, job.FileUploadID)
	if err != nil {
		return nil, err
	}
	return buildJobStatusView(job, upload), nil
}

// JobsByFileHash returns the job history of an upload, newest first.
func (s *Service) JobsByFileHash(ctx context.Context, hash string, limit, offset int) ([]JobStatusView, int64, error) {
	upload, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, 0, err
	}
	jobs, total, err := s.store.JobsByFileHash(ctx, hash, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]JobStatusView, 0, len(jobs))
	for i := range jobs {
		views = append(views, *buildJobStatusView(&jobs[i], upload))
	}
	return views, total, nil
}

// UploadErrors lists the rejected lines recorded for the upload with the
// given content hash.
func (s *Service) UploadErrors(ctx context.Context, hash string) ([]ProcessingError, error) {
	upload, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.store.ErrorsForUpload(ctx, upload.ID)
}

func buildJobStatusView(job *JobExecution, upload *FileUpload) *JobStatusView {
	return &JobStatusView{
		JobID:        job.ID,
		Status:       job.Status,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
		FileHash:     upload.FileHash,
		FileName:     upload.FileName,
		TotalRows:    upload.TotalRows,
		ValidRows:    upload.ValidRows,
		InvalidRows:  upload.InvalidRows,
		ErrorMessage: job.ErrorMessage,
	}
}
