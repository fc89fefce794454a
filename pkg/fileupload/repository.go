package fileupload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrUploadNotFound = errors.New("file upload not found")

// IsUniqueViolation reports whether an error came from the unique file-hash
// index. Two concurrent submissions of the same content race on it and the
// loser is reported as a duplicate.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&FileUpload{}, &JobExecution{}, &ProcessingError{}, &ServiceFileRelation{})
}

// Transaction runs fn inside one database transaction using a repository
// bound to it.
func (r *Repository) Transaction(ctx context.Context, fn func(tx UploadTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) JobTransaction(ctx context.Context, fn func(tx JobStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) SetStoragePath(ctx context.Context, id, path string) error {
	return r.db.WithContext(ctx).Model(&FileUpload{}).Where("id = ?", id).Update("storage_path", path).Error
}

func (r *Repository) UpdateUploader(ctx context.Context, id, uploader string) error {
	return r.db.WithContext(ctx).Model(&FileUpload{}).Where("id = ?", id).Update("uploaded_by", uploader).Error
}

func (r *Repository) CreateUpload(ctx context.Context, upload *FileUpload) error {
	return r.db.WithContext(ctx).Create(upload).Error
}

func (r *Repository) FindByHash(ctx context.Context, hash string) (*FileUpload, error) {
	var upload FileUpload
	err := r.db.WithContext(ctx).Where("file_hash = ?", hash).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding upload by hash: %w", err)
	}
	return &upload, nil
}

func (r *Repository) FindUploadByID(ctx context.Context, id string) (*FileUpload, error) {
	var upload FileUpload
	err := r.db.WithContext(ctx).First(&upload, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// UpdateUploadStatus writes the status and the failure reason together; an
// empty reason clears a stale one left over from an earlier failed run.
func (r *Repository) UpdateUploadStatus(ctx context.Context, id string, status UploadStatus, reason string) error {
	return r.db.WithContext(ctx).Model(&FileUpload{}).Where("id = ?", id).Updates(map[string]any{
		"status":         status,
		"failure_reason": reason,
	}).Error
}

func (r *Repository) UpdateUploadCounts(ctx context.Context, id string, total, valid, invalid int) error {
	return r.db.WithContext(ctx).Model(&FileUpload{}).Where("id = ?", id).Updates(map[string]any{
		"total_rows":   total,
		"valid_rows":   valid,
		"invalid_rows": invalid,
	}).Error
}

func (r *Repository) CreateJob(ctx context.Context, job *JobExecution) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) FindJobByID(ctx context.Context, id string) (*JobExecution, error) {
	var job JobExecution
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestJobForUpload returns the most recently created job for an upload.
func (r *Repository) LatestJobForUpload(ctx context.Context, uploadID string) (*JobExecution, error) {
	var job JobExecution
	err := r.db.WithContext(ctx).
		Where("file_upload_id = ?", uploadID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) UpdateJob(ctx context.Context, job *JobExecution) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// FindFailedJobsBefore returns failed jobs whose last update is older than
// the cutoff, for the retry sweep.
func (r *Repository) FindFailedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]JobExecution, error) {
	var jobs []JobExecution
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", JobFailed, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *Repository) JobsByFileHash(ctx context.Context, hash string, limit, offset int) ([]JobExecution, int64, error) {
	var upload FileUpload
	err := r.db.WithContext(ctx).Where("file_hash = ?", hash).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrUploadNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&JobExecution{}).
		Where("file_upload_id = ?", upload.ID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []JobExecution
	err = r.db.WithContext(ctx).
		Where("file_upload_id = ?", upload.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&jobs).Error
	return jobs, total, err
}

func (r *Repository) SaveProcessingErrors(ctx context.Context, errs []ProcessingError) error {
	if len(errs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&errs).Error
}

func (r *Repository) ErrorsForUpload(ctx context.Context, uploadID string) ([]ProcessingError, error) {
	var out []ProcessingError
	err := r.db.WithContext(ctx).
		Where("file_upload_id = ?", uploadID).
		Order("line_number ASC").
		Find(&out).Error
	return out, err
}
