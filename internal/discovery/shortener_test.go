package discovery_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lodgekit/social-discovery/internal/discovery"
)

func TestIsShortener(t *testing.T) {
	t.Parallel()

	assert.True(t, discovery.IsShortener("https://bit.ly/abc123"))
	assert.True(t, discovery.IsShortener("https://t.co/xyz"))
	assert.True(t, discovery.IsShortener("https://lnkd.in/abc"))
	assert.False(t, discovery.IsShortener("https://facebook.com/page"))
	assert.False(t, discovery.IsShortener("://not-a-url"))
}

func TestResolveFollowsRedirectChain(t *testing.T) {
	t.Parallel()

	final := "https://facebook.com/grandhotel"
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hop1":
			http.Redirect(w, r, server.URL+"/hop2", http.StatusMovedPermanently)
		case "/hop2":
			http.Redirect(w, r, final, http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	r := discovery.NewShortenerResolver(5 * time.Second)
	got := r.Resolve(context.Background(), server.URL+"/hop1")
	assert.Equal(t, final, got)
}

func TestResolveStopsAtNonRedirect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := discovery.NewShortenerResolver(5 * time.Second)
	got := r.Resolve(context.Background(), server.URL+"/page")
	assert.Equal(t, server.URL+"/page", got)
}

func TestResolveBoundedHops(t *testing.T) {
	t.Parallel()

	// Every hop redirects to the next; the resolver must give up after its
	// hop budget instead of looping.
	var server *httptest.Server
	hops := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("%s/hop%d", server.URL, hops), http.StatusFound)
	}))
	defer server.Close()

	r := discovery.NewShortenerResolver(5 * time.Second)
	got := r.Resolve(context.Background(), server.URL+"/hop0")
	assert.Contains(t, got, server.URL)
	assert.LessOrEqual(t, hops, 6)
}

func TestResolveRelativeLocationFallsBackToGet(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/short":
			w.Header().Set("Location", "/landing")
			w.WriteHeader(http.StatusFound)
		case "/landing":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	r := discovery.NewShortenerResolver(5 * time.Second)
	got := r.Resolve(context.Background(), server.URL+"/short")
	assert.Equal(t, server.URL+"/landing", got)
}

func TestResolveUnreachableHostReturnsInput(t *testing.T) {
	t.Parallel()

	r := discovery.NewShortenerResolver(1 * time.Second)
	in := "http://127.0.0.1:1/short"
	assert.Equal(t, in, r.Resolve(context.Background(), in))
}
