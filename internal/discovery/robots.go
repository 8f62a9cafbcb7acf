package discovery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsCache is a per-origin fetch-once robots.txt gate. robots.txt is
// fetched at most once per origin; any fetch failure marks the origin
// unrestricted (fail-open) and is not retried. Each origin has its own
// fetch gate, so loading robots.txt for one origin never stalls lookups
// for unrelated origins.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu      sync.Mutex
	origins map[string]*robotsEntry
}

type robotsEntry struct {
	once sync.Once
	data *robotstxt.RobotsData // nil means unrestricted
}

// NewRobotsCache builds a cache fetching with the given user agent under a
// short timeout.
func NewRobotsCache(userAgent string, timeout time.Duration, logger *zap.Logger) *RobotsCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		origins:   make(map[string]*robotsEntry),
	}
}

// Allowed resolves the URL's origin, ensures its robots.txt has been
// fetched, and evaluates the rules for (user agent, path). Defaults to true
// on parse errors or unparseable URLs with a host.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	entry := r.entry(originKey(parsed))
	entry.once.Do(func() {
		entry.data = r.fetch(ctx, parsed)
	})
	if entry.data == nil {
		return true
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (r *RobotsCache) entry(origin string) *robotsEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.origins[origin]
	if !ok {
		entry = &robotsEntry{}
		r.origins[origin] = entry
	}
	return entry
}

func (r *RobotsCache) fetch(ctx context.Context, page *url.URL) *robotstxt.RobotsData {
	robotsURL := &url.URL{Scheme: page.Scheme, Host: page.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots fetch failed; treating origin as unrestricted",
			zap.String("origin", originKey(page)), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.logger.Debug("robots parse failed; treating origin as unrestricted",
			zap.String("origin", originKey(page)), zap.Error(err))
		return nil
	}
	return data
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
