package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/fileupload"
)

func init() {
	logger.Init()
}

type sweepStore struct {
	mu      sync.Mutex
	uploads map[string]*fileupload.FileUpload
	jobs    map[string]*fileupload.JobExecution
	failed  []fileupload.JobExecution
}

func (s *sweepStore) FindJobByID(ctx context.Context, id string) (*fileupload.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fileupload.ErrUploadNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *sweepStore) UpdateJob(ctx context.Context, job *fileupload.JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *sweepStore) UpdateUploadStatus(ctx context.Context, id string, status fileupload.UploadStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[id]; ok {
		u.Status = status
	}
	return nil
}

func (s *sweepStore) UpdateUploadCounts(ctx context.Context, id string, total, valid, invalid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[id]; ok {
		u.TotalRows = total
		u.ValidRows = valid
		u.InvalidRows = invalid
	}
	return nil
}

func (s *sweepStore) JobTransaction(ctx context.Context, fn func(tx fileupload.JobStore) error) error {
	return fn(s)
}

func (s *sweepStore) FindFailedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]fileupload.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.failed
	s.failed = nil
	return out, nil
}

type captureScheduler struct {
	mu        sync.Mutex
	scheduled []string
	err       error
}

func (c *captureScheduler) Schedule(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.scheduled = append(c.scheduled, jobID)
	return nil
}

func newSweepFixture() (*sweepStore, string) {
	uploadID := fileupload.NewID()
	jobID := fileupload.NewID()
	store := &sweepStore{
		uploads: map[string]*fileupload.FileUpload{
			uploadID: {ID: uploadID, Status: fileupload.UploadFailed},
		},
		jobs: map[string]*fileupload.JobExecution{
			jobID: {ID: jobID, FileUploadID: uploadID, Status: fileupload.JobFailed},
		},
	}
	store.failed = []fileupload.JobExecution{*store.jobs[jobID]}
	return store, jobID
}

func TestFailedJobRetrySweep(t *testing.T) {
	store, jobID := newSweepFixture()
	capture := &captureScheduler{}

	s := New()
	s.RegisterFailedJobRetry(store, capture, 10*time.Millisecond, 0, 10)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		capture.mu.Lock()
		n := len(capture.scheduled)
		capture.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweep never rescheduled the failed job")
		case <-time.After(5 * time.Millisecond):
		}
	}

	job, _ := store.FindJobByID(context.Background(), jobID)
	if job.Status != fileupload.JobPending {
		t.Fatalf("expected job re-armed to PENDING, got %s", job.Status)
	}
}

func TestFailedJobRetryRestoresFailureWhenPoolRejects(t *testing.T) {
	store, jobID := newSweepFixture()
	capture := &captureScheduler{err: errors.New("queue full")}

	s := New()
	s.RegisterFailedJobRetry(store, capture, 10*time.Millisecond, 0, 10)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		job, _ := store.FindJobByID(context.Background(), jobID)
		if job.Status == fileupload.JobFailed && job.ErrorMessage != "" {
			if job.ErrorMessage != "retry failed: queue full" {
				t.Fatalf("unexpected error message: %s", job.ErrorMessage)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never returned to FAILED, status=%s", job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type countingRunner struct {
	mu    sync.Mutex
	count int
}

func (c *countingRunner) RunAllRules(ctx context.Context) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func TestRuleSweepTicks(t *testing.T) {
	runner := &countingRunner{}
	s := New()
	s.RegisterRuleSweep(runner, 10*time.Millisecond)
	s.Start()

	deadline := time.After(2 * time.Second)
	for {
		runner.mu.Lock()
		n := runner.count
		runner.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("rule sweep never ran twice")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()
	runner.mu.Lock()
	after := runner.count
	runner.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	runner.mu.Lock()
	final := runner.count
	runner.mu.Unlock()
	if final > after+1 {
		t.Fatalf("sweep kept running after Stop: %d -> %d", after, final)
	}
}
