package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, int64, FetchAttempt) error { return nil }

// shortenerTransport stands in for the shortener hosts: bit.ly answers with a
// redirect to the real profile, t.co refuses the connection.
type shortenerTransport struct{}

func (shortenerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch req.URL.Host {
	case "bit.ly":
		return &http.Response{
			StatusCode: http.StatusMovedPermanently,
			Header:     http.Header{"Location": []string{"https://instagram.com/grandhotel"}},
			Body:       http.NoBody,
			Request:    req,
		}, nil
	case "t.co":
		return nil, errors.New("connection refused")
	default:
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		}, nil
	}
}

func TestPipelineExpandsShortenerLinks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>` + strings.Repeat("Grand Hotel welcomes you. ", 100) + `</p>` +
			`<a href="https://bit.ly/grand-ig">our instagram</a>` +
			`<a href="https://t.co/unreachable">old link</a>` +
			`</body></html>`))
	}))
	defer server.Close()

	resolver := &ShortenerResolver{
		headClient: &http.Client{
			Transport: shortenerTransport{},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		getClient: &http.Client{Transport: shortenerTransport{}},
		maxHops:   shortenerMaxHops,
	}

	p := NewPipeline(
		PipelineConfig{UserAgent: "social-discovery-bot/0.1", FetchTimeout: 5 * time.Second},
		NewGovernor(0, 4),
		nil,
		NewDetector(0, 0, 0),
		NewRetryPolicy(1, time.Millisecond, time.Millisecond),
		nil,
		resolver,
		nopRecorder{},
		nil,
	)

	job := &CrawlJob{ID: 1, JobID: "a52f77b1-09ce-4f30-a2bb-5f07b1a2aa10", Domain: server.URL, Queue: "default"}
	links, err := p.Process(context.Background(), job, "")
	require.NoError(t, err)
	require.Len(t, links, 2)

	// The resolvable shortener is expanded and re-bucketed into its platform.
	assert.Equal(t, "https://instagram.com/grandhotel", links[0].URL)
	assert.Equal(t, PlatformInstagram, links[0].Platform)

	// The unreachable one keeps its original URL and stays unclassified.
	assert.Equal(t, "https://t.co/unreachable", links[1].URL)
	assert.Empty(t, links[1].Platform)
}
