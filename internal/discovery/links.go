package discovery

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// Query parameters stripped during normalization. Tracking junk only; every
// other parameter is preserved.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
}

// platformHosts maps each known network to the hostnames that identify it.
// Matching is exact or dot-suffix, so "x.com" never matches "max.com".
var platformHosts = map[string][]string{
	PlatformFacebook:  {"facebook.com"},
	PlatformInstagram: {"instagram.com"},
	PlatformX:         {"twitter.com", "x.com"},
	PlatformYouTube:   {"youtube.com", "youtu.be"},
	PlatformTikTok:    {"tiktok.com"},
	PlatformLinkedIn:  {"linkedin.com"},
}

// LinkSet holds the deduplicated, classified output of one extraction pass.
// Per-platform slices preserve first-seen order.
type LinkSet struct {
	ByPlatform map[string][]string
	Others     []string
}

// NewLinkSet returns an empty LinkSet with every platform bucket present.
func NewLinkSet() LinkSet {
	buckets := make(map[string][]string, len(Platforms))
	for _, p := range Platforms {
		buckets[p] = nil
	}
	return LinkSet{ByPlatform: buckets}
}

// HasPlatformLinks reports whether any known network was matched.
func (s LinkSet) HasPlatformLinks() bool {
	for _, urls := range s.ByPlatform {
		if len(urls) > 0 {
			return true
		}
	}
	return false
}

// Add classifies one normalized URL into its platform bucket (or Others),
// skipping duplicates.
func (s *LinkSet) Add(normalized string) {
	platform := DetectPlatform(normalized)
	if platform == "" {
		if !contains(s.Others, normalized) {
			s.Others = append(s.Others, normalized)
		}
		return
	}
	if !contains(s.ByPlatform[platform], normalized) {
		s.ByPlatform[platform] = append(s.ByPlatform[platform], normalized)
	}
}

// Links flattens the set into DiscoveredLink records for persistence.
func (s LinkSet) Links(sourceURL string, now time.Time) []DiscoveredLink {
	var out []DiscoveredLink
	for _, platform := range Platforms {
		for _, u := range s.ByPlatform[platform] {
			out = append(out, DiscoveredLink{
				URL:       u,
				Platform:  platform,
				SourceURL: sourceURL,
				LastSeen:  now,
				Active:    true,
			})
		}
	}
	for _, u := range s.Others {
		out = append(out, DiscoveredLink{
			URL:       u,
			SourceURL: sourceURL,
			LastSeen:  now,
			Active:    true,
		})
	}
	return out
}

// ExtractLinks pulls every anchor href out of the HTML, normalizes it
// against the base URL, and classifies it by platform. Pure: no I/O.
func ExtractLinks(html string, baseURL string) LinkSet {
	set := NewLinkSet()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return set
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		normalized, ok := NormalizeURL(href, baseURL)
		if !ok {
			return
		}
		set.Add(normalized)
	})
	return set
}

// NormalizeURL standardizes a href for dedup: NFKC-normalize, resolve
// scheme-relative and relative references against base, default the scheme
// to https, collapse the host to registrable-domain form, strip tracking
// parameters and the fragment. Returns false for anything that does not
// resolve to a URL with a host.
func NormalizeURL(raw string, baseURL string) (string, bool) {
	raw = norm.NFKC.String(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if baseURL != "" {
		base, berr := url.Parse(baseURL)
		if berr == nil {
			u = base.ResolveReference(u)
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", false
	}
	if u.Hostname() == "" {
		return "", false
	}

	u.Host = collapseHost(u.Hostname())
	u.Fragment = ""
	u.RawQuery = stripTracking(u.RawQuery)

	return u.String(), true
}

// stripTracking removes tracking parameters from a raw query string. The
// surviving parameters keep their original order and encoding.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key := part
		if i := strings.Index(part, "="); i >= 0 {
			key = part[:i]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

// collapseHost lowercases the host and rebuilds it as subdomain plus
// registrable domain, dropping any port.
func collapseHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	if host == etld1 {
		return etld1
	}
	sub := strings.TrimSuffix(strings.TrimSuffix(host, etld1), ".")
	if sub == "" {
		return etld1
	}
	return sub + "." + etld1
}

// DetectPlatform returns the network tag for a normalized URL, or "" when
// the host matches no known network.
func DetectPlatform(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, platform := range Platforms {
		for _, candidate := range platformHosts[platform] {
			if host == candidate || strings.HasSuffix(host, "."+candidate) {
				return platform
			}
		}
	}
	return ""
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
