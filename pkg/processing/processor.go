package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/cloudservice"
	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/fileupload"
	"github.com/cloudmon/platform/pkg/observability/metrics"
)

// UploadStore is the slice of the upload repository the processor needs.
type UploadStore interface {
	fileupload.JobStore
	FindUploadByID(ctx context.Context, id string) (*fileupload.FileUpload, error)
	SaveProcessingErrors(ctx context.Context, errs []fileupload.ProcessingError) error
}

// Completion summarizes one successfully processed upload. Listeners run
// after the terminal status is committed.
type Completion struct {
	JobID       string
	UploadID    string
	FileHash    string
	FileName    string
	TotalRows   int
	ValidRows   int
	InvalidRows int
}

type CompletionListener interface {
	FileProcessed(ctx context.Context, c Completion)
}

// Processor turns a stored upload into subscription rows. Valid lines are
// persisted in fixed-size batches, each in its own transaction, in stream
// order. A batch that fails to commit fails the job but leaves every earlier
// batch in place.
type Processor struct {
	store     UploadStore
	files     fileupload.FileStore
	persister Persister
	parser    *Parser
	ledger    *fileupload.Ledger
	batchSize int
	listeners []CompletionListener
}

func NewProcessor(store UploadStore, files fileupload.FileStore, persister Persister, batchSize int) *Processor {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Processor{
		store:     store,
		files:     files,
		persister: persister,
		parser:    NewParser(),
		ledger:    fileupload.NewLedger(store),
		batchSize: batchSize,
	}
}

// AddListener registers a hook invoked after an upload completes.
func (p *Processor) AddListener(l CompletionListener) {
	p.listeners = append(p.listeners, l)
}

// Process runs one job to its terminal status. The returned error is also
// recorded on the job.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	log := logger.Log.WithField("job_id", jobID)
	log.Info("starting file processing")

	job, err := p.ledger.Start(ctx, jobID)
	if err != nil {
		return fmt.Errorf("starting job %s: %w", jobID, err)
	}

	upload, err := p.store.FindUploadByID(ctx, job.FileUploadID)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("loading upload: %w", err))
	}

	content, err := p.files.Open(ctx, upload.FileHash+".csv")
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("opening stored file: %w", err))
	}
	defer content.Close()

	run := &processingRun{upload: upload, buffered: make(map[string]struct{})}
	parseErrors, err := p.parser.Parse(content, func(record Record) error {
		return p.processRecord(ctx, run, record)
	})
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	// Remainder batch.
	if err := p.flush(ctx, run); err != nil {
		return p.fail(ctx, jobID, err)
	}

	allErrors := run.processingErrors
	for _, pe := range parseErrors {
		allErrors = append(allErrors, fileupload.ProcessingError{
			ID:           fileupload.NewID(),
			FileUploadID: upload.ID,
			LineNumber:   pe.LineNumber,
			RawLine:      pe.RawLine,
			Category:     fileupload.CategoryParsing,
			Message:      pe.Message,
		})
	}
	if err := p.store.SaveProcessingErrors(ctx, allErrors); err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("saving processing errors: %w", err))
	}

	invalid := len(allErrors)
	total := run.validRecords + invalid

	// Counts and both terminal statuses commit together inside the ledger.
	if _, err := p.ledger.Complete(ctx, jobID, total, run.validRecords, invalid); err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	metrics.JobCompleted(run.validRecords, invalid)

	log.WithFields(logrus.Fields{
		"total":   total,
		"valid":   run.validRecords,
		"invalid": invalid,
	}).Info("file processing completed")

	completion := Completion{
		JobID:       jobID,
		UploadID:    upload.ID,
		FileHash:    upload.FileHash,
		FileName:    upload.FileName,
		TotalRows:   total,
		ValidRows:   run.validRecords,
		InvalidRows: invalid,
	}
	for _, l := range p.listeners {
		l.FileProcessed(ctx, completion)
	}
	return nil
}

// processingRun accumulates the current batch and the counters of one job.
type processingRun struct {
	upload           *fileupload.FileUpload
	services         []cloudservice.CloudService
	relations        []fileupload.ServiceFileRelation
	processingErrors []fileupload.ProcessingError
	buffered         map[string]struct{}
	validRecords     int
}

func (p *Processor) processRecord(ctx context.Context, run *processingRun, record Record) error {
	// The upsert cannot touch the same natural key twice within one
	// statement, so a repeated key forces the buffered batch out first.
	// After the flush the lookup sees the committed row and the repeat
	// becomes an UPDATE.
	key := record.CustomerID + ":" + string(record.ServiceType)
	if _, dup := run.buffered[key]; dup {
		if err := p.flush(ctx, run); err != nil {
			return err
		}
	}

	svc, operation, err := p.prepareService(ctx, record)
	if err != nil {
		logger.Log.WithField("line", record.LineNumber).Warn(err.Error())
		run.processingErrors = append(run.processingErrors, fileupload.ProcessingError{
			ID:           fileupload.NewID(),
			FileUploadID: run.upload.ID,
			LineNumber:   record.LineNumber,
			RawLine:      fmt.Sprintf("%s,%s", record.CustomerID, record.ServiceType),
			Category:     fileupload.CategoryProcessing,
			Message:      err.Error(),
		})
		return nil
	}

	run.services = append(run.services, *svc)
	run.relations = append(run.relations, fileupload.ServiceFileRelation{
		ID:           fileupload.NewID(),
		FileUploadID: run.upload.ID,
		LineNumber:   record.LineNumber,
		Operation:    operation,
	})
	run.buffered[key] = struct{}{}
	run.validRecords++

	if len(run.services) >= p.batchSize {
		return p.flush(ctx, run)
	}
	return nil
}

func (p *Processor) flush(ctx context.Context, run *processingRun) error {
	if len(run.services) == 0 {
		return nil
	}
	if err := p.persister.SaveBatch(ctx, run.services, run.relations); err != nil {
		return err
	}
	run.services = nil
	run.relations = nil
	run.buffered = make(map[string]struct{})
	return nil
}

// prepareService resolves a record against the existing subscription with
// the same natural key, tagging the row CREATE or UPDATE.
func (p *Processor) prepareService(ctx context.Context, record Record) (*cloudservice.CloudService, string, error) {
	existing, err := p.persister.FindService(ctx, record.CustomerID, record.ServiceType)
	if err != nil && !errors.Is(err, cloudservice.ErrNotFound) {
		return nil, "", fmt.Errorf("looking up existing service: %w", err)
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.ActivationDate = record.ActivationDate
		existing.ExpirationDate = record.ExpirationDate
		existing.Amount = record.Amount
		existing.Status = record.Status
		existing.LastUpdated = now
		return existing, fileupload.OperationUpdate, nil
	}

	return &cloudservice.CloudService{
		CustomerID:     record.CustomerID,
		ServiceType:    record.ServiceType,
		ActivationDate: record.ActivationDate,
		ExpirationDate: record.ExpirationDate,
		Amount:         record.Amount,
		Status:         record.Status,
		LastUpdated:    now,
	}, fileupload.OperationCreate, nil
}

func (p *Processor) fail(ctx context.Context, jobID string, cause error) error {
	metrics.JobFailed()
	logger.Log.WithError(cause).WithField("job_id", jobID).Error("file processing failed")
	if _, err := p.ledger.Fail(ctx, jobID, cause.Error()); err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Error("failed to record job failure")
	}
	return cause
}
