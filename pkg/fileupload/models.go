package fileupload

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type UploadStatus string

const (
	UploadPending    UploadStatus = "PENDING"
	UploadProcessing UploadStatus = "PROCESSING"
	UploadCompleted  UploadStatus = "COMPLETED"
	UploadFailed     UploadStatus = "FAILED"
	UploadCancelled  UploadStatus = "CANCELLED"
)

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// jobTransitions holds the allowed job state machine edges. FAILED may only
// move back to PENDING, which is how the retry sweep re-arms a job.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobFailed},
	JobProcessing: {JobCompleted, JobFailed},
	JobFailed:     {JobPending},
	JobCompleted:  {},
}

// ValidateJobTransition reports whether a job may move from one status to
// another.
func ValidateJobTransition(from, to JobStatus) error {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", from, to)
}

type ErrorCategory string

const (
	CategoryParsing    ErrorCategory = "PARSING_ERROR"
	CategoryProcessing ErrorCategory = "PROCESSING_ERROR"
)

// FileUpload is the ledger entry for one accepted upload, keyed by the
// SHA-256 of its content.
type FileUpload struct {
	ID            string       `gorm:"type:uuid;primaryKey" json:"id"`
	FileName      string       `gorm:"not null" json:"file_name"`
	FileHash      string       `gorm:"type:char(64);uniqueIndex:ux_file_hash;not null" json:"file_hash"`
	FileSize      int64        `gorm:"not null" json:"file_size"`
	UploadedBy    string       `gorm:"type:varchar(128)" json:"uploaded_by"`
	StoragePath   string       `json:"storage_path"`
	Status        UploadStatus `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	TotalRows     int          `json:"total_rows"`
	ValidRows     int          `json:"valid_rows"`
	InvalidRows   int          `json:"invalid_rows"`
	FailureReason string       `json:"failure_reason,omitempty"`
	UploadedAt    time.Time    `gorm:"autoCreateTime" json:"uploaded_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FileUpload) TableName() string { return "file_uploads" }

// JobExecution tracks one processing attempt window for an upload. A fresh
// row is created whenever a failed upload is resubmitted.
type JobExecution struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	FileUploadID string     `gorm:"type:uuid;index;not null" json:"file_upload_id"`
	Status       JobStatus  `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (JobExecution) TableName() string { return "job_executions" }

// ProcessingError records one rejected CSV line for later inspection.
type ProcessingError struct {
	ID           string        `gorm:"type:uuid;primaryKey" json:"id"`
	FileUploadID string        `gorm:"type:uuid;index;not null" json:"file_upload_id"`
	LineNumber   int           `gorm:"not null" json:"line_number"`
	RawLine      string        `json:"raw_line"`
	Category     ErrorCategory `gorm:"type:varchar(24);not null" json:"category"`
	Message      string        `gorm:"not null" json:"message"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (ProcessingError) TableName() string { return "processing_errors" }

// ServiceFileRelation links a persisted subscription row to the upload that
// created or last updated it, with the line number inside that file.
type ServiceFileRelation struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	FileUploadID   string    `gorm:"type:uuid;index;not null" json:"file_upload_id"`
	CloudServiceID uint64    `gorm:"index;not null" json:"cloud_service_id"`
	LineNumber     int       `gorm:"not null" json:"line_number"`
	Operation      string    `gorm:"type:varchar(8);not null" json:"operation"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ServiceFileRelation) TableName() string { return "service_file_relations" }

const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
)

func NewID() string { return uuid.New().String() }

// AcceptOutcome is the classification of an upload attempt against the
// ledger.
type AcceptOutcome string

const (
	OutcomeAccepted            AcceptOutcome = "ACCEPTED"
	OutcomeDuplicateSubmission AcceptOutcome = "DUPLICATE_SUBMISSION"
	OutcomeAlreadyInProgress   AcceptOutcome = "ALREADY_IN_PROGRESS"
	OutcomeRetryAccepted       AcceptOutcome = "RETRY_ACCEPTED"
)

// AcceptResult is returned to the caller of Accept and rendered by the HTTP
// facade.
type AcceptResult struct {
	Outcome   AcceptOutcome `json:"outcome"`
	UploadID  string        `json:"upload_id"`
	FileName  string        `json:"file_name"`
	FileHash  string        `json:"file_hash"`
	JobID     string        `json:"job_id,omitempty"`
	JobStatus JobStatus     `json:"job_status,omitempty"`
	Message   string        `json:"message"`
}

func (r AcceptResult) StatusMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return strings.ToLower(string(r.Outcome))
}
