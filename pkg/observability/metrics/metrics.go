package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	uploadsAccepted   atomic.Int64
	uploadsDuplicate  atomic.Int64
	uploadsRejected   atomic.Int64
	jobsCompleted     atomic.Int64
	jobsFailed        atomic.Int64
	rowsValid         atomic.Int64
	rowsInvalid       atomic.Int64
	poolQueueDepth    atomic.Int64
	poolActiveWorkers atomic.Int64
)

func UploadAccepted()  { uploadsAccepted.Add(1) }
func UploadDuplicate() { uploadsDuplicate.Add(1) }
func UploadRejected()  { uploadsRejected.Add(1) }

func JobCompleted(valid, invalid int) {
	jobsCompleted.Add(1)
	rowsValid.Add(int64(valid))
	rowsInvalid.Add(int64(invalid))
}

func JobFailed() { jobsFailed.Add(1) }

func ObservePool(active, queued int) {
	poolActiveWorkers.Store(int64(active))
	poolQueueDepth.Store(int64(queued))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP cloudmon_uploads_accepted_total Number of file uploads accepted for processing.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_uploads_accepted_total counter\n")
	fmt.Fprintf(w, "cloudmon_uploads_accepted_total %d\n", uploadsAccepted.Load())

	fmt.Fprintf(w, "# HELP cloudmon_uploads_duplicate_total Number of file uploads refused as duplicates.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_uploads_duplicate_total counter\n")
	fmt.Fprintf(w, "cloudmon_uploads_duplicate_total %d\n", uploadsDuplicate.Load())

	fmt.Fprintf(w, "# HELP cloudmon_uploads_rejected_total Number of file uploads rejected by validation.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_uploads_rejected_total counter\n")
	fmt.Fprintf(w, "cloudmon_uploads_rejected_total %d\n", uploadsRejected.Load())

	fmt.Fprintf(w, "# HELP cloudmon_jobs_completed_total Number of processing jobs completed.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_jobs_completed_total counter\n")
	fmt.Fprintf(w, "cloudmon_jobs_completed_total %d\n", jobsCompleted.Load())

	fmt.Fprintf(w, "# HELP cloudmon_jobs_failed_total Number of processing jobs failed.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_jobs_failed_total counter\n")
	fmt.Fprintf(w, "cloudmon_jobs_failed_total %d\n", jobsFailed.Load())

	fmt.Fprintf(w, "# HELP cloudmon_rows_valid_total Number of CSV rows that passed validation.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_rows_valid_total counter\n")
	fmt.Fprintf(w, "cloudmon_rows_valid_total %d\n", rowsValid.Load())

	fmt.Fprintf(w, "# HELP cloudmon_rows_invalid_total Number of CSV rows rejected by validation.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_rows_invalid_total counter\n")
	fmt.Fprintf(w, "cloudmon_rows_invalid_total %d\n", rowsInvalid.Load())

	fmt.Fprintf(w, "# HELP cloudmon_file_pool_active_workers Number of workers currently processing files.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_file_pool_active_workers gauge\n")
	fmt.Fprintf(w, "cloudmon_file_pool_active_workers %d\n", poolActiveWorkers.Load())

	fmt.Fprintf(w, "# HELP cloudmon_file_pool_queue_depth Number of jobs waiting in the file pool queue.\n")
	fmt.Fprintf(w, "# TYPE cloudmon_file_pool_queue_depth gauge\n")
	fmt.Fprintf(w, "cloudmon_file_pool_queue_depth %d\n", poolQueueDepth.Load())
}
