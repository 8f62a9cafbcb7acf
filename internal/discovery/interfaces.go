package discovery

import (
	"context"
	"errors"
)

// ErrNoJobAvailable is returned by ReserveNextJob when no queued or retry
// row is claimable. Callers should poll with backoff. Check with errors.Is().
var ErrNoJobAvailable = errors.New("no job available")

// ErrJobNotFound reports a lookup for a job id that does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists jobs, attempts, and discovered links.
type JobStore interface {
	// EnqueueBatch creates one hotel per domain (idempotent on domain) and
	// one queued CrawlJob per domain.
	EnqueueBatch(ctx context.Context, name string, queue string, domains []string, metadata map[string]string) (Batch, error)
	// ReserveNextJob atomically claims one queued/retry job: two concurrent
	// callers never receive the same row. Returns ErrNoJobAvailable when
	// nothing is claimable.
	ReserveNextJob(ctx context.Context, queue string) (*CrawlJob, error)
	// RecordAttempt appends a FetchAttempt for the job.
	RecordAttempt(ctx context.Context, jobID int64, attempt FetchAttempt) error
	// MarkCompleted transitions the job to completed and upserts the links
	// in one transaction.
	MarkCompleted(ctx context.Context, job *CrawlJob, links []DiscoveredLink) error
	// MarkFailed transitions to retry, or to failed once attempts reach the
	// retry budget. The error text is truncated before storage.
	MarkFailed(ctx context.Context, job *CrawlJob, cause string) error
	// FailPermanently transitions straight to failed regardless of the
	// attempt count (robots refusals are never retried).
	FailPermanently(ctx context.Context, job *CrawlJob, cause string) error
	GetJob(ctx context.Context, jobID string) (*CrawlJob, error)
	ListLinks(ctx context.Context, jobID string, limit int) ([]DiscoveredLink, error)
}

// AttemptRecorder is the slice of JobStore the pipeline needs.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, jobID int64, attempt FetchAttempt) error
}

// CheckpointStore records which worker is processing which job. It is a
// crash-recovery aid, not the source of truth for job status.
type CheckpointStore interface {
	Set(workerID, jobID string) error
	Clear(workerID string) error
	Read() (map[string]string, error)
}

// Renderer is an opaque headless-render capability: load the page, wait for
// it to settle, return the final DOM.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}
