package discovery

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Hosts that only ever hold a redirect to the real destination. Links on
// these hosts are expanded before classification.
var shortenerHosts = map[string]struct{}{
	"bit.ly":      {},
	"t.co":        {},
	"tinyurl.com": {},
	"goo.gl":      {},
	"ow.ly":       {},
	"buff.ly":     {},
	"rebrand.ly":  {},
	"is.gd":       {},
	"lnkd.in":     {},
}

const shortenerMaxHops = 5

// ShortenerResolver follows link-shortener redirects to their destination.
type ShortenerResolver struct {
	// headClient does not follow redirects so each hop is observable.
	headClient *http.Client
	// getClient follows redirects, used when a Location header is relative.
	getClient *http.Client
	maxHops   int
}

// NewShortenerResolver builds a resolver with bounded hop count.
func NewShortenerResolver(timeout time.Duration) *ShortenerResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ShortenerResolver{
		headClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		getClient: &http.Client{Timeout: timeout},
		maxHops:   shortenerMaxHops,
	}
}

// IsShortener reports whether the URL's host is a known link shortener.
func IsShortener(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := shortenerHosts[strings.ToLower(u.Hostname())]
	return ok
}

// Resolve follows redirects from rawURL and returns the final destination.
// HEAD requests are preferred; a relative Location header falls back to a
// full GET with redirects. Any error returns the last known URL.
func (r *ShortenerResolver) Resolve(ctx context.Context, rawURL string) string {
	current := rawURL
	for hop := 0; hop < r.maxHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return current
		}
		resp, err := r.headClient.Do(req)
		if err != nil {
			return current
		}
		location := resp.Header.Get("Location")
		_ = resp.Body.Close()

		if !isRedirect(resp.StatusCode) || location == "" {
			return current
		}
		if !strings.HasPrefix(location, "http") {
			return r.resolveByGet(ctx, rawURL)
		}
		current = location
	}
	return current
}

// resolveByGet lets the HTTP client chase the whole chain and reports where
// it landed.
func (r *ShortenerResolver) resolveByGet(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return rawURL
	}
	resp, err := r.getClient.Do(req)
	if err != nil {
		return rawURL
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return rawURL
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
