// Package postgres provides the Postgres-backed job store adapter.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodgekit/social-discovery/internal/discovery"
)

const lastErrorLimit = 1000

// PgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it for tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool and retry budget.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxRetries      int
}

// JobStore implements discovery.JobStore on Postgres. Claims rely on
// row-level locks with SKIP LOCKED so concurrent claimants never wait on,
// or receive, each other's rows.
type JobStore struct {
	pool       PgxPool
	maxRetries int
}

// NewJobStore connects a pool and returns the store.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(pool, cfg.MaxRetries)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool PgxPool, maxRetries int) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &JobStore{pool: pool, maxRetries: maxRetries}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnqueueBatch creates one hotel per domain (idempotent on domain) and one
// queued job per domain, all in a single transaction.
func (s *JobStore) EnqueueBatch(
	ctx context.Context,
	name string,
	queue string,
	domains []string,
	metadata map[string]string,
) (discovery.Batch, error) {
	if len(domains) == 0 {
		return discovery.Batch{}, fmt.Errorf("at least one domain is required")
	}
	if queue == "" {
		queue = "default"
	}
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return discovery.Batch{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return discovery.Batch{}, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobIDs := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		var hotelID int64
		err = tx.QueryRow(ctx, `
INSERT INTO hotels (domain) VALUES ($1)
ON CONFLICT (domain) DO UPDATE SET updated_at = now()
RETURNING id`, domain).Scan(&hotelID)
		if err != nil {
			return discovery.Batch{}, fmt.Errorf("upsert hotel %s: %w", domain, err)
		}

		jobID := uuid.NewString()
		_, err = tx.Exec(ctx, `
INSERT INTO crawl_jobs (job_id, hotel_id, queue, status, attempts, metadata)
VALUES ($1, $2, $3, 'queued', 0, $4)`, jobID, hotelID, queue, metaJSON)
		if err != nil {
			return discovery.Batch{}, fmt.Errorf("insert job for %s: %w", domain, err)
		}
		jobIDs = append(jobIDs, jobID)
	}
	if len(jobIDs) == 0 {
		return discovery.Batch{}, fmt.Errorf("no valid domains in batch")
	}
	if err := tx.Commit(ctx); err != nil {
		return discovery.Batch{}, fmt.Errorf("commit enqueue: %w", err)
	}
	return discovery.Batch{
		BatchID:     uuid.NewString(),
		Name:        name,
		SubmittedAt: time.Now().UTC(),
		JobCount:    len(jobIDs),
		JobIDs:      jobIDs,
	}, nil
}

const reserveNextJobSQL = `
UPDATE crawl_jobs j
SET status = 'in_progress', attempts = j.attempts + 1
FROM (
	SELECT cj.id
	FROM crawl_jobs cj
	WHERE cj.status IN ('queued', 'retry') AND cj.queue = $1
	ORDER BY cj.created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) next
WHERE j.id = next.id
RETURNING j.id, j.job_id,
	(SELECT h.domain FROM hotels h WHERE h.id = j.hotel_id),
	j.queue, j.status, j.attempts, j.metadata, j.created_at`

// ReserveNextJob atomically claims the oldest queued/retry job in the
// queue. Locked candidate rows are skipped, never waited on, so two
// concurrent claimants cannot receive the same row.
func (s *JobStore) ReserveNextJob(ctx context.Context, queue string) (*discovery.CrawlJob, error) {
	if queue == "" {
		queue = "default"
	}
	var (
		job      discovery.CrawlJob
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx, reserveNextJobSQL, queue).Scan(
		&job.ID,
		&job.JobID,
		&job.Domain,
		&job.Queue,
		&job.Status,
		&job.Attempts,
		&metaJSON,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, discovery.ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}
	job.Metadata = unmarshalMetadata(metaJSON)
	return &job, nil
}

// RecordAttempt appends one fetch attempt row. Attempts are append-only.
func (s *JobStore) RecordAttempt(ctx context.Context, jobID int64, attempt discovery.FetchAttempt) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO fetch_attempts (job_id, proxy, status_code, success, error, response_time_ms)
VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID,
		nullString(attempt.Proxy),
		nullInt(attempt.StatusCode),
		attempt.Success,
		nullString(truncateError(attempt.Error, 5000)),
		nullInt64(attempt.LatencyMS),
	)
	if err != nil {
		return fmt.Errorf("insert fetch attempt: %w", err)
	}
	return nil
}

// MarkCompleted sets the job completed and upserts every link in one
// transaction; partial link writes are never visible.
func (s *JobStore) MarkCompleted(ctx context.Context, job *discovery.CrawlJob, links []discovery.DiscoveredLink) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin completion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE crawl_jobs
SET status = 'completed', completed_at = now(), last_error = NULL
WHERE id = $1`, job.ID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	for _, link := range links {
		_, err = tx.Exec(ctx, `
INSERT INTO discovered_links (job_id, url, network, source_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id, url) DO NOTHING`,
			job.ID, link.URL, nullString(link.Platform), nullString(link.SourceURL))
		if err != nil {
			return fmt.Errorf("upsert link %s: %w", link.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}
	job.Status = discovery.JobStatusCompleted
	return nil
}

// MarkFailed moves the job to retry, or to failed once the attempt count
// has exhausted the retry budget. The cause is truncated before storage.
func (s *JobStore) MarkFailed(ctx context.Context, job *discovery.CrawlJob, cause string) error {
	status := discovery.JobStatusRetry
	if job.Attempts >= s.maxRetries {
		status = discovery.JobStatusFailed
	}
	return s.transition(ctx, job, status, cause)
}

// FailPermanently moves the job straight to failed regardless of attempts.
func (s *JobStore) FailPermanently(ctx context.Context, job *discovery.CrawlJob, cause string) error {
	return s.transition(ctx, job, discovery.JobStatusFailed, cause)
}

func (s *JobStore) transition(ctx context.Context, job *discovery.CrawlJob, status discovery.JobStatus, cause string) error {
	cause = truncateError(cause, lastErrorLimit)
	_, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET status = $2, last_error = $3 WHERE id = $1`,
		job.ID, string(status), cause)
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", status, err)
	}
	job.Status = status
	job.LastError = cause
	return nil
}

// GetJob loads a job by its public UUID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*discovery.CrawlJob, error) {
	var (
		job       discovery.CrawlJob
		metaJSON  []byte
		lastError *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT j.id, j.job_id, h.domain, j.queue, j.status, j.attempts, j.last_error,
	j.metadata, j.created_at, j.completed_at
FROM crawl_jobs j
JOIN hotels h ON h.id = j.hotel_id
WHERE j.job_id = $1`, jobID).Scan(
		&job.ID,
		&job.JobID,
		&job.Domain,
		&job.Queue,
		&job.Status,
		&job.Attempts,
		&lastError,
		&metaJSON,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, discovery.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	job.Metadata = unmarshalMetadata(metaJSON)
	return &job, nil
}

// ListLinks returns the job's discovered links, most recently seen first.
// The limit is clamped to 1..500.
func (s *JobStore) ListLinks(ctx context.Context, jobID string, limit int) ([]discovery.DiscoveredLink, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
SELECT l.url, COALESCE(l.network, ''), COALESCE(l.source_url, ''), l.last_seen, l.is_active
FROM discovered_links l
JOIN crawl_jobs j ON j.id = l.job_id
WHERE j.job_id = $1
ORDER BY l.last_seen DESC
LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []discovery.DiscoveredLink
	for rows.Next() {
		var link discovery.DiscoveredLink
		if err := rows.Scan(&link.URL, &link.Platform, &link.SourceURL, &link.LastSeen, &link.Active); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) map[string]string {
	if len(data) == 0 {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]string{}
	}
	return out
}

// truncateError cuts s to at most limit bytes on a rune boundary, dropping
// invalid UTF-8 so the value is always acceptable to a Postgres TEXT column.
func truncateError(s string, limit int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nullInt64(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}
