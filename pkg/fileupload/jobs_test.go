package fileupload

import (
	"context"
	"errors"
	"testing"
)

func TestValidateJobTransition(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{JobPending, JobProcessing},
		{JobPending, JobFailed},
		{JobProcessing, JobCompleted},
		{JobProcessing, JobFailed},
		{JobFailed, JobPending},
	}
	for _, tc := range allowed {
		if err := ValidateJobTransition(tc.from, tc.to); err != nil {
			t.Errorf("expected %s -> %s to be allowed: %v", tc.from, tc.to, err)
		}
	}

	forbidden := []struct{ from, to JobStatus }{
		{JobPending, JobCompleted},
		{JobCompleted, JobPending},
		{JobCompleted, JobProcessing},
		{JobCompleted, JobFailed},
		{JobFailed, JobProcessing},
		{JobFailed, JobCompleted},
		{JobProcessing, JobPending},
	}
	for _, tc := range forbidden {
		if err := ValidateJobTransition(tc.from, tc.to); err == nil {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestLedgerLifecycle(t *testing.T) {
	store := newFakeStore()
	upload := &FileUpload{ID: NewID(), FileHash: "h", Status: UploadPending}
	store.uploads[upload.ID] = upload
	job := &JobExecution{ID: NewID(), FileUploadID: upload.ID, Status: JobPending}
	store.jobs[job.ID] = job

	ledger := NewLedger(store)
	ctx := context.Background()

	started, err := ledger.Start(ctx, job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != JobProcessing || started.StartedAt == nil {
		t.Fatalf("expected PROCESSING with start time, got %+v", started)
	}
	if store.uploads[upload.ID].Status != UploadProcessing {
		t.Fatalf("expected upload to follow job into PROCESSING")
	}

	failed, err := ledger.Fail(ctx, job.ID, "broker unreachable")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != JobFailed || failed.ErrorMessage != "broker unreachable" {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	if store.uploads[upload.ID].Status != UploadFailed {
		t.Fatalf("expected upload FAILED, got %s", store.uploads[upload.ID].Status)
	}

	rearmed, err := ledger.Rearm(ctx, job.ID)
	if err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if rearmed.Status != JobPending || rearmed.ErrorMessage != "" || rearmed.StartedAt != nil {
		t.Fatalf("expected a clean PENDING job, got %+v", rearmed)
	}

	if _, err := ledger.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start after rearm: %v", err)
	}
	done, err := ledger.Complete(ctx, job.ID, 10, 8, 2)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != JobCompleted || done.FinishedAt == nil {
		t.Fatalf("unexpected completed job: %+v", done)
	}
	if u := store.uploads[upload.ID]; u.TotalRows != 10 || u.ValidRows != 8 || u.InvalidRows != 2 {
		t.Fatalf("expected counts recorded with completion, got %+v", u)
	}
	if store.uploads[upload.ID].FailureReason != "" {
		t.Fatalf("expected stale failure reason cleared, got %q", store.uploads[upload.ID].FailureReason)
	}

	// COMPLETED is terminal.
	if _, err := ledger.Rearm(ctx, job.ID); err == nil {
		t.Fatal("expected rearm of completed job to fail")
	}
}

// txFakeStore rolls the fake maps back when the transaction callback fails,
// mimicking the repository's transactional behavior.
type txFakeStore struct {
	*fakeStore
	failUploadStatus error
}

func (s *txFakeStore) UpdateUploadStatus(ctx context.Context, id string, status UploadStatus, reason string) error {
	if s.failUploadStatus != nil {
		return s.failUploadStatus
	}
	return s.fakeStore.UpdateUploadStatus(ctx, id, status, reason)
}

func (s *txFakeStore) JobTransaction(ctx context.Context, fn func(tx JobStore) error) error {
	jobs := make(map[string]*JobExecution, len(s.jobs))
	for k, v := range s.jobs {
		cp := *v
		jobs[k] = &cp
	}
	uploads := make(map[string]*FileUpload, len(s.uploads))
	for k, v := range s.uploads {
		cp := *v
		uploads[k] = &cp
	}
	if err := fn(s); err != nil {
		s.jobs = jobs
		s.uploads = uploads
		return err
	}
	return nil
}

func TestLedgerRollsBackWhenUploadWriteFails(t *testing.T) {
	store := &txFakeStore{
		fakeStore:        newFakeStore(),
		failUploadStatus: errors.New("connection reset"),
	}
	upload := &FileUpload{ID: NewID(), FileHash: "h", Status: UploadProcessing}
	store.uploads[upload.ID] = upload
	job := &JobExecution{ID: NewID(), FileUploadID: upload.ID, Status: JobProcessing}
	store.jobs[job.ID] = job

	ledger := NewLedger(store)

	if _, err := ledger.Fail(context.Background(), job.ID, "parse exploded"); err == nil {
		t.Fatal("expected Fail to surface the upload write error")
	}

	// Neither side of the terminal write may stick on its own.
	if got := store.jobs[job.ID].Status; got != JobProcessing {
		t.Fatalf("expected job left PROCESSING after rollback, got %s", got)
	}
	if got := store.uploads[upload.ID].Status; got != UploadProcessing {
		t.Fatalf("expected upload left PROCESSING after rollback, got %s", got)
	}

	if _, err := ledger.Complete(context.Background(), job.ID, 1, 1, 0); err == nil {
		t.Fatal("expected Complete to surface the upload write error")
	}
	if got := store.jobs[job.ID].Status; got != JobProcessing {
		t.Fatalf("expected job untouched after failed completion, got %s", got)
	}
	if store.uploads[upload.ID].TotalRows != 0 {
		t.Fatalf("expected counts rolled back, got %d", store.uploads[upload.ID].TotalRows)
	}
}
