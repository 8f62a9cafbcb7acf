// Package memory provides an in-memory job store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lodgekit/social-discovery/internal/discovery"
)

type jobRecord struct {
	job      discovery.CrawlJob
	attempts []discovery.FetchAttempt
	links    map[string]discovery.DiscoveredLink
	seq      int64
}

// JobStore implements discovery.JobStore with process-local state. Claim
// atomicity comes from the store mutex; semantics mirror the Postgres
// adapter so the worker can be exercised without a database.
type JobStore struct {
	mu         sync.Mutex
	jobs       map[string]*jobRecord // keyed by public job UUID
	nextSeq    int64
	maxRetries int
	now        func() time.Time
}

// NewJobStore constructs an empty store.
func NewJobStore(maxRetries int) *JobStore {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &JobStore{
		jobs:       make(map[string]*jobRecord),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// EnqueueBatch creates one queued job per domain.
func (s *JobStore) EnqueueBatch(
	_ context.Context,
	name string,
	queue string,
	domains []string,
	metadata map[string]string,
) (discovery.Batch, error) {
	if queue == "" {
		queue = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobIDs := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		s.nextSeq++
		jobID := uuid.NewString()
		s.jobs[jobID] = &jobRecord{
			job: discovery.CrawlJob{
				ID:        s.nextSeq,
				JobID:     jobID,
				Domain:    domain,
				Queue:     queue,
				Status:    discovery.JobStatusQueued,
				Metadata:  cloneMetadata(metadata),
				CreatedAt: s.now(),
			},
			links: make(map[string]discovery.DiscoveredLink),
			seq:   s.nextSeq,
		}
		jobIDs = append(jobIDs, jobID)
	}
	if len(jobIDs) == 0 {
		return discovery.Batch{}, fmt.Errorf("no valid domains in batch")
	}
	return discovery.Batch{
		BatchID:     uuid.NewString(),
		Name:        name,
		SubmittedAt: s.now(),
		JobCount:    len(jobIDs),
		JobIDs:      jobIDs,
	}, nil
}

// ReserveNextJob claims the oldest queued/retry job under the store mutex,
// so two concurrent callers never receive the same job.
func (s *JobStore) ReserveNextJob(_ context.Context, queue string) (*discovery.CrawlJob, error) {
	if queue == "" {
		queue = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *jobRecord
	for _, rec := range s.jobs {
		if rec.job.Queue != queue {
			continue
		}
		if rec.job.Status != discovery.JobStatusQueued && rec.job.Status != discovery.JobStatusRetry {
			continue
		}
		if candidate == nil || rec.seq < candidate.seq {
			candidate = rec
		}
	}
	if candidate == nil {
		return nil, discovery.ErrNoJobAvailable
	}
	candidate.job.Status = discovery.JobStatusInProgress
	candidate.job.Attempts++
	claimed := candidate.job
	return &claimed, nil
}

// RecordAttempt appends a fetch attempt to the owning job.
func (s *JobStore) RecordAttempt(_ context.Context, jobID int64, attempt discovery.FetchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byID(jobID)
	if rec == nil {
		return fmt.Errorf("job %d not found", jobID)
	}
	rec.attempts = append(rec.attempts, attempt)
	return nil
}

// MarkCompleted completes the job and upserts the links; re-discovery of a
// (job, url) pair is a no-op.
func (s *JobStore) MarkCompleted(_ context.Context, job *discovery.CrawlJob, links []discovery.DiscoveredLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byID(job.ID)
	if rec == nil {
		return fmt.Errorf("job %d not found", job.ID)
	}
	now := s.now()
	rec.job.Status = discovery.JobStatusCompleted
	rec.job.CompletedAt = &now
	rec.job.LastError = ""
	for _, link := range links {
		if _, exists := rec.links[link.URL]; !exists {
			rec.links[link.URL] = link
		}
	}
	job.Status = discovery.JobStatusCompleted
	return nil
}

// MarkFailed moves the job to retry, or to failed once attempts exhaust the
// retry budget.
func (s *JobStore) MarkFailed(_ context.Context, job *discovery.CrawlJob, cause string) error {
	status := discovery.JobStatusRetry
	if job.Attempts >= s.maxRetries {
		status = discovery.JobStatusFailed
	}
	return s.transition(job, status, cause)
}

// FailPermanently moves the job straight to failed.
func (s *JobStore) FailPermanently(_ context.Context, job *discovery.CrawlJob, cause string) error {
	return s.transition(job, discovery.JobStatusFailed, cause)
}

func (s *JobStore) transition(job *discovery.CrawlJob, status discovery.JobStatus, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byID(job.ID)
	if rec == nil {
		return fmt.Errorf("job %d not found", job.ID)
	}
	cause = strings.ToValidUTF8(cause, "")
	if len(cause) > 1000 {
		cut := 1000
		for cut > 0 && !utf8.RuneStart(cause[cut]) {
			cut--
		}
		cause = cause[:cut]
	}
	rec.job.Status = status
	rec.job.LastError = cause
	job.Status = status
	job.LastError = cause
	return nil
}

// GetJob returns a copy of the job by public UUID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (*discovery.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, discovery.ErrJobNotFound)
	}
	job := rec.job
	return &job, nil
}

// ListLinks returns the job's links, most recently seen first.
func (s *JobStore) ListLinks(_ context.Context, jobID string, limit int) ([]discovery.DiscoveredLink, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, discovery.ErrJobNotFound)
	}
	links := make([]discovery.DiscoveredLink, 0, len(rec.links))
	for _, link := range rec.links {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].LastSeen.Equal(links[j].LastSeen) {
			return links[i].URL < links[j].URL
		}
		return links[i].LastSeen.After(links[j].LastSeen)
	})
	if len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

// Attempts returns a copy of the job's fetch attempts, oldest first.
func (s *JobStore) Attempts(jobID int64) []discovery.FetchAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byID(jobID)
	if rec == nil {
		return nil
	}
	return append([]discovery.FetchAttempt(nil), rec.attempts...)
}

func (s *JobStore) byID(id int64) *jobRecord {
	for _, rec := range s.jobs {
		if rec.job.ID == id {
			return rec
		}
	}
	return nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
