package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lodgekit/social-discovery/internal/checkpoint"
	"github.com/lodgekit/social-discovery/internal/config"
	"github.com/lodgekit/social-discovery/internal/discovery"
	"github.com/lodgekit/social-discovery/internal/store/postgres"
	"github.com/lodgekit/social-discovery/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var queue string
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the crawl worker loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, queue, once)
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "queue to consume (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "process a single job and exit")
	return cmd
}

func runWorker(cmd *cobra.Command, queue string, once bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewJobStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
		MaxRetries:      cfg.Crawler.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	checkpoints, err := checkpoint.NewFileStore(cfg.Worker.DataDir)
	if err != nil {
		return fmt.Errorf("init checkpoints: %w", err)
	}

	proxies := discovery.NewProxyPool(cfg.Proxy.FailureThreshold, cfg.Proxy.Quarantine())
	if cfg.Proxy.File != "" {
		n, err := proxies.LoadFromFile(cfg.Proxy.File)
		if err != nil {
			return fmt.Errorf("load proxies: %w", err)
		}
		logger.Info("proxy pool loaded", zap.Int("proxies", n))
	} else {
		logger.Warn("no proxy file configured, fetching directly")
	}

	governor := discovery.NewGovernor(cfg.Crawler.PerDomainDelay(), cfg.Crawler.PerDomainConcurrency)
	var robots *discovery.RobotsCache
	if cfg.Crawler.RespectRobots {
		robots = discovery.NewRobotsCache(cfg.Crawler.UserAgent, cfg.HTTP.Timeout(), logger)
	} else {
		logger.Warn("robots.txt compliance disabled")
	}
	detector := discovery.NewDetector(0, 0, 0) // defaults
	retry := discovery.NewRetryPolicy(
		cfg.HTTP.MaxAttempts,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	shortener := discovery.NewShortenerResolver(cfg.HTTP.Timeout())

	renderer, cleanup, err := buildRenderer(cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	pipeline := discovery.NewPipeline(
		discovery.PipelineConfig{
			UserAgent:    cfg.Crawler.UserAgent,
			FetchTimeout: cfg.HTTP.Timeout(),
		},
		governor,
		robots,
		detector,
		retry,
		renderer,
		shortener,
		store,
		logger,
	)

	w := worker.New(
		worker.Config{
			WorkerID:     workerID(),
			Queue:        firstNonEmpty(queue, cfg.Worker.Queue),
			PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
		},
		store,
		checkpoints,
		proxies,
		governor,
		pipeline,
		logger,
	)

	if once {
		return w.RunOnce(ctx)
	}
	logger.Info("worker started", zap.String("queue", firstNonEmpty(queue, cfg.Worker.Queue)))
	return w.Run(ctx)
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (discovery.Renderer, func(), error) {
	if !cfg.Render.Enabled {
		return nil, nil, nil
	}
	r, err := discovery.NewChromedpRenderer(discovery.RenderConfig{
		MaxParallel: cfg.Render.MaxParallel,
		NavTimeout:  time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
		DomainQPS:   cfg.Render.DomainQPS,
		UserAgent:   cfg.Crawler.UserAgent,
	}, logger)
	if errors.Is(err, discovery.ErrRendererDisabled) {
		logger.Warn("renderer disabled despite feature flag, continuing without fallback")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("init renderer: %w", err)
	}
	cleanup := func() {
		if cerr := r.Close(); cerr != nil {
			logger.Warn("renderer close failed", zap.Error(cerr))
		}
	}
	return r, cleanup, nil
}

// workerID names this process for checkpointing. Hostname plus a short
// random suffix keeps two workers on one host distinct.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
