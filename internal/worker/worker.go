// Package worker implements the claim-process-persist loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lodgekit/social-discovery/internal/discovery"
	"github.com/lodgekit/social-discovery/internal/metrics"
)

// ErrNoLinksFound marks a reachable page that yielded zero links. It is a
// retryable failure: an empty result from a live site is usually a
// JS-rendering or anti-bot artifact worth another attempt with a different
// proxy.
var ErrNoLinksFound = errors.New("no social links discovered")

// Processor runs one claimed job through the fetch pipeline.
type Processor interface {
	Process(ctx context.Context, job *discovery.CrawlJob, proxy string) ([]discovery.DiscoveredLink, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *discovery.CrawlJob, proxy string) ([]discovery.DiscoveredLink, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, job *discovery.CrawlJob, proxy string) ([]discovery.DiscoveredLink, error) {
	return f(ctx, job, proxy)
}

// Config controls Worker behavior.
type Config struct {
	WorkerID     string
	Queue        string
	PollInterval time.Duration
}

// Worker ties the engine together: claim, checkpoint, governor slot, proxy
// pick, pipeline, persist, release. One failing job never stops the loop.
type Worker struct {
	cfg         Config
	store       discovery.JobStore
	checkpoints discovery.CheckpointStore
	proxies     *discovery.ProxyPool
	governor    *discovery.Governor
	processor   Processor
	logger      *zap.Logger
}

// New constructs a Worker.
func New(
	cfg Config,
	store discovery.JobStore,
	checkpoints discovery.CheckpointStore,
	proxies *discovery.ProxyPool,
	governor *discovery.Governor,
	processor Processor,
	logger *zap.Logger,
) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:         cfg,
		store:       store,
		checkpoints: checkpoints,
		proxies:     proxies,
		governor:    governor,
		processor:   processor,
		logger:      logger,
	}
}

// Run consumes jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) error {
	return w.run(ctx, false)
}

// RunOnce processes a single job (or returns immediately when the queue is
// empty) and exits.
func (w *Worker) RunOnce(ctx context.Context) error {
	return w.run(ctx, true)
}

func (w *Worker) run(ctx context.Context, once bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := w.store.ReserveNextJob(ctx, w.cfg.Queue)
		if errors.Is(err, discovery.ErrNoJobAvailable) {
			if once {
				return nil
			}
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("reserve job failed", zap.Error(err))
			metrics.IncWorkerError()
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		w.processJob(ctx, job)

		if once {
			return nil
		}
	}
}

// processJob runs one claimed job end to end. The governor slot spans the
// full fetch-through-persist sequence and the checkpoint entry brackets it.
func (w *Worker) processJob(ctx context.Context, job *discovery.CrawlJob) {
	metrics.IncInProgress()
	defer metrics.DecInProgress()

	if err := w.governor.AcquireSlot(ctx, job.Domain); err != nil {
		// Claim made but slot never acquired: leave the row in_progress
		// for the reaper rather than guessing at a transition mid-shutdown.
		w.logger.Warn("slot acquisition aborted", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}
	defer w.governor.ReleaseSlot(job.Domain)

	if err := w.checkpoints.Set(w.cfg.WorkerID, job.JobID); err != nil {
		w.logger.Warn("checkpoint write failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
	defer func() {
		if err := w.checkpoints.Clear(w.cfg.WorkerID); err != nil {
			w.logger.Warn("checkpoint clear failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}()

	proxy := w.proxies.GetProxy()
	w.logger.Info("processing job",
		zap.String("job_id", job.JobID),
		zap.String("domain", job.Domain),
		zap.Int("attempt", job.Attempts),
		zap.String("proxy", proxy),
	)

	links, err := w.safeProcess(ctx, job, proxy)
	switch {
	case errors.Is(err, discovery.ErrBlockedByRobots):
		// Compliance refusal: terminal, never retried, and not the
		// proxy's fault.
		w.persistFailure(ctx, job, err, false, proxy)
	case err != nil:
		w.persistFailure(ctx, job, err, true, proxy)
	case len(links) == 0:
		w.persistFailure(ctx, job, ErrNoLinksFound, true, proxy)
	default:
		w.persistSuccess(ctx, job, links, proxy)
	}
}

// safeProcess isolates panics from a single job so the loop survives.
func (w *Worker) safeProcess(ctx context.Context, job *discovery.CrawlJob, proxy string) (links []discovery.DiscoveredLink, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job, proxy)
}

func (w *Worker) persistSuccess(ctx context.Context, job *discovery.CrawlJob, links []discovery.DiscoveredLink, proxy string) {
	if err := w.store.MarkCompleted(ctx, job, links); err != nil {
		// Leave the job in_progress; the reaper requeues it and the link
		// upsert makes the eventual rerun idempotent.
		w.logger.Error("mark completed failed", zap.String("job_id", job.JobID), zap.Error(err))
		metrics.IncWorkerError()
		return
	}
	w.proxies.RecordSuccess(proxy)
	metrics.IncJobCompleted()
	metrics.AddLinksDiscovered(len(links))
	w.logger.Info("job completed",
		zap.String("job_id", job.JobID),
		zap.String("domain", job.Domain),
		zap.Int("links", len(links)),
	)
}

func (w *Worker) persistFailure(ctx context.Context, job *discovery.CrawlJob, cause error, retryable bool, proxy string) {
	if retryable {
		w.proxies.RecordFailure(proxy)
	}
	var err error
	if retryable {
		err = w.store.MarkFailed(ctx, job, cause.Error())
	} else {
		err = w.store.FailPermanently(ctx, job, cause.Error())
	}
	if err != nil {
		w.logger.Error("mark failed errored", zap.String("job_id", job.JobID), zap.Error(err))
		metrics.IncWorkerError()
		return
	}
	metrics.IncJobFailed()
	w.logger.Warn("job failed",
		zap.String("job_id", job.JobID),
		zap.String("domain", job.Domain),
		zap.String("status", string(job.Status)),
		zap.Error(cause),
	)
}

func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
