package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lodgekit/social-discovery/internal/store/postgres"
)

func newSubmitCmd() *cobra.Command {
	var (
		name     string
		queue    string
		file     string
		metadata []string
	)
	cmd := &cobra.Command{
		Use:   "submit [domains...]",
		Short: "Enqueue a batch of domains for crawling",
		Long: `Enqueues one crawl job per domain. Domains can be given as arguments
or read from a file with one domain per line (lines starting with # are
skipped).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args, name, queue, file, metadata)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "batch name")
	cmd.Flags().StringVar(&queue, "queue", "default", "target queue")
	cmd.Flags().StringVar(&file, "file", "", "file with one domain per line")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "metadata key=value pairs attached to every job")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string, name, queue, file string, metaPairs []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	domains := append([]string{}, args...)
	if file != "" {
		fromFile, err := readDomainFile(file)
		if err != nil {
			return err
		}
		domains = append(domains, fromFile...)
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains given")
	}

	metadata := make(map[string]string, len(metaPairs))
	for _, pair := range metaPairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		metadata[key] = value
	}

	store, err := postgres.NewJobStore(cmd.Context(), postgres.Config{
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

	batch, err := store.EnqueueBatch(cmd.Context(), name, queue, domains, metadata)
	if err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	logger.Info("batch submitted",
		zap.String("batch_id", batch.BatchID),
		zap.String("queue", queue),
		zap.Int("jobs", batch.JobCount),
	)
	fmt.Fprintln(cmd.OutOrStdout(), batch.BatchID)
	return nil
}

func readDomainFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domain file: %w", err)
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	return domains, nil
}
