// Package discovery defines core types shared across subsystems.
package discovery

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusRetry      JobStatus = "retry"
	JobStatusFailed     JobStatus = "failed"
)

// Platform tags for the known social networks. An empty platform means the
// link did not match any known network.
const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformX         = "x"
	PlatformYouTube   = "youtube"
	PlatformTikTok    = "tiktok"
	PlatformLinkedIn  = "linkedin"
)

// Platforms lists the known networks in classification order.
var Platforms = []string{
	PlatformFacebook,
	PlatformInstagram,
	PlatformX,
	PlatformYouTube,
	PlatformTikTok,
	PlatformLinkedIn,
}

// CrawlJob is the unit of work: one domain to probe for social links.
type CrawlJob struct {
	ID          int64             `json:"-"`
	JobID       string            `json:"job_id"`
	Domain      string            `json:"domain"`
	Queue       string            `json:"queue,omitempty"`
	Status      JobStatus         `json:"status"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// FetchAttempt records one HTTP try against a job. Rows are append-only.
type FetchAttempt struct {
	Proxy      string    `json:"proxy,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  int64     `json:"latency_ms,omitempty"`
	At         time.Time `json:"at"`
}

// DiscoveredLink is a normalized social (or other) link found on a page.
// (job, URL) is unique; re-discovery is a no-op at the store layer.
type DiscoveredLink struct {
	URL       string    `json:"url"`
	Platform  string    `json:"platform,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	Active    bool      `json:"active"`
}

// Batch summarizes one submission of domains.
type Batch struct {
	BatchID     string    `json:"batch_id"`
	Name        string    `json:"batch_name"`
	SubmittedAt time.Time `json:"submitted_at"`
	JobCount    int       `json:"job_count"`
	JobIDs      []string  `json:"job_ids"`
}

// FetchResult is the outcome of the HTTP fetch stage for one job.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Latency    time.Duration
	Rendered   bool
}
