package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lodgekit/social-discovery/internal/metrics"
)

// Terminal pipeline outcomes. Robots refusals are never retried; captcha
// blocks are retryable on a later attempt with a different proxy.
var (
	ErrBlockedByRobots = errors.New("blocked_by_robots")
	ErrCaptchaDetected = errors.New("captcha_detected")
)

const (
	maxBodyBytes      = 5 << 20
	attemptErrorLimit = 5000
	statusErrorPeek   = 500
)

// PipelineConfig carries the fetch-stage knobs.
type PipelineConfig struct {
	UserAgent    string
	FetchTimeout time.Duration
}

// Pipeline runs one job through fetch, classification, optional render
// fallback, and link extraction. It owns no job lifecycle state; the caller
// maps its result or error onto the job store.
type Pipeline struct {
	cfg       PipelineConfig
	governor  *Governor
	robots    *RobotsCache
	detector  *Detector
	retry     *RetryPolicy
	renderer  Renderer
	shortener *ShortenerResolver
	attempts  AttemptRecorder
	logger    *zap.Logger

	clientMu sync.Mutex
	clients  map[string]*http.Client
}

// NewPipeline wires the fetch pipeline. renderer may be nil (no fallback),
// robots may be nil (compliance disabled).
func NewPipeline(
	cfg PipelineConfig,
	governor *Governor,
	robots *RobotsCache,
	detector *Detector,
	retry *RetryPolicy,
	renderer Renderer,
	shortener *ShortenerResolver,
	attempts AttemptRecorder,
	logger *zap.Logger,
) *Pipeline {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		governor:  governor,
		robots:    robots,
		detector:  detector,
		retry:     retry,
		renderer:  renderer,
		shortener: shortener,
		attempts:  attempts,
		logger:    logger,
		clients:   make(map[string]*http.Client),
	}
}

// Process executes the single-pass state machine for one claimed job:
// politeness gate, robots check, fetch with transport retry, captcha check,
// extraction, and render fallback when the static body looks JS-rendered
// and yielded no platform links. The returned links are deduplicated within
// the job; an empty slice with a nil error means the page was reachable but
// held no links.
func (p *Pipeline) Process(ctx context.Context, job *CrawlJob, proxy string) ([]DiscoveredLink, error) {
	// Stored domains are bare hostnames; a full URL passes through untouched.
	baseURL := job.Domain
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	if err := p.governor.RespectDelay(ctx, job.Domain); err != nil {
		return nil, err
	}
	if p.robots != nil && !p.robots.Allowed(ctx, baseURL) {
		return nil, fmt.Errorf("%s: %w", job.Domain, ErrBlockedByRobots)
	}

	result, err := p.fetch(ctx, job, baseURL, proxy)
	if err != nil {
		return nil, err
	}

	body := string(result.Body)
	if p.detector.LooksLikeCaptcha(body) {
		return nil, fmt.Errorf("%s: %w", job.Domain, ErrCaptchaDetected)
	}

	set := ExtractLinks(body, baseURL)

	if p.renderer != nil && !set.HasPlatformLinks() && p.detector.JSHeavy(body) {
		if rendered := p.renderFallback(ctx, job, baseURL); rendered != "" {
			set = ExtractLinks(rendered, baseURL)
		}
	}

	set = p.expandShorteners(ctx, set)
	return set.Links(baseURL, time.Now().UTC()), nil
}

// fetch issues the HTTP GET under the transport retry policy, recording one
// FetchAttempt per try. HTTP error statuses complete the fetch (the page
// may still carry links); only transport failures are retried.
func (p *Pipeline) fetch(ctx context.Context, job *CrawlJob, rawURL, proxy string) (FetchResult, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := p.doRequest(ctx, rawURL, proxy)
		if err == nil {
			p.recordAttempt(ctx, job, FetchAttempt{
				Proxy:      proxy,
				StatusCode: result.StatusCode,
				Success:    result.StatusCode >= 200 && result.StatusCode < 400,
				Error:      statusError(result),
				LatencyMS:  result.Latency.Milliseconds(),
				At:         time.Now().UTC(),
			})
			metrics.ObserveFetch(job.Domain, result.Latency)
			return result, nil
		}

		lastErr = err
		p.recordAttempt(ctx, job, FetchAttempt{
			Proxy:   proxy,
			Success: false,
			Error:   truncate(err.Error(), attemptErrorLimit),
			At:      time.Now().UTC(),
		})
		if !p.retry.ShouldRetry(err, attempt) {
			break
		}

		backoff := p.retry.Backoff(attempt)
		p.logger.Debug("fetch retry",
			zap.String("domain", job.Domain),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return FetchResult{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
	}
	return FetchResult{}, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

func (p *Pipeline) doRequest(ctx context.Context, rawURL, proxy string) (FetchResult, error) {
	client, err := p.clientFor(proxy)
	if err != nil {
		return FetchResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return FetchResult{}, fmt.Errorf("read body: %w", err)
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return FetchResult{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}

// renderFallback loads the page through the renderer. Failures are
// swallowed: the pipeline keeps the static extraction rather than failing
// the job over a rendering problem.
func (p *Pipeline) renderFallback(ctx context.Context, job *CrawlJob, rawURL string) string {
	html, err := p.renderer.Render(ctx, rawURL)
	if err != nil {
		p.logger.Warn("render fallback failed; keeping static extraction",
			zap.String("domain", job.Domain), zap.Error(err))
		return ""
	}
	metrics.ObserveRender(job.Domain)
	return html
}

// expandShorteners resolves links on known shortener hosts to their
// destination and reclassifies them.
func (p *Pipeline) expandShorteners(ctx context.Context, set LinkSet) LinkSet {
	if p.shortener == nil {
		return set
	}
	needsWork := false
	for _, u := range set.Others {
		if IsShortener(u) {
			needsWork = true
			break
		}
	}
	if !needsWork {
		return set
	}

	expanded := NewLinkSet()
	for _, platform := range Platforms {
		for _, u := range set.ByPlatform[platform] {
			expanded.Add(u)
		}
	}
	for _, u := range set.Others {
		if !IsShortener(u) {
			expanded.Add(u)
			continue
		}
		resolved := p.shortener.Resolve(ctx, u)
		if normalized, ok := NormalizeURL(resolved, ""); ok {
			expanded.Add(normalized)
		} else {
			expanded.Add(u)
		}
	}
	return expanded
}

// clientFor returns a cached HTTP client routed through the proxy ("" means
// direct). Redirects are followed; politeness applies to the request start.
func (p *Pipeline) clientFor(proxy string) (*http.Client, error) {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	if client, ok := p.clients[proxy]; ok {
		return client, nil
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{
		Timeout:   p.cfg.FetchTimeout,
		Transport: transport,
	}
	p.clients[proxy] = client
	return client, nil
}

func (p *Pipeline) recordAttempt(ctx context.Context, job *CrawlJob, attempt FetchAttempt) {
	if p.attempts == nil {
		return
	}
	if err := p.attempts.RecordAttempt(ctx, job.ID, attempt); err != nil {
		p.logger.Warn("record fetch attempt failed",
			zap.String("job_id", job.JobID), zap.Error(err))
	}
	metrics.IncFetchAttempts()
}

// statusError captures the leading bytes of an HTTP-error body so the
// attempt row explains the refusal without storing the whole page.
func statusError(result FetchResult) string {
	if result.StatusCode >= 200 && result.StatusCode < 400 {
		return ""
	}
	return truncate(string(result.Body), statusErrorPeek)
}

// truncate cuts s to at most limit bytes without splitting a rune, dropping
// any invalid UTF-8 first so the result is always storable in a TEXT column.
func truncate(s string, limit int) string {
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
