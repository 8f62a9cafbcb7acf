package discovery_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lodgekit/social-discovery/internal/discovery"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := discovery.NewRetryPolicy(3, time.Second, 4*time.Second)
	transport := &url.Error{Op: "Get", URL: "https://grandhotel.com", Err: errors.New("connection refused")}

	assert.False(t, p.ShouldRetry(nil, 1), "success never retries")
	assert.True(t, p.ShouldRetry(transport, 1))
	assert.True(t, p.ShouldRetry(transport, 2))
	assert.False(t, p.ShouldRetry(transport, 3), "attempt budget exhausted")

	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 1))

	var netErr net.Error = &net.DNSError{Err: "no such host", Name: "grandhotel.invalid", IsTimeout: false}
	assert.True(t, p.ShouldRetry(netErr, 1))

	// Client timeouts wrap DeadlineExceeded inside a url.Error and are
	// retryable transport timeouts.
	timeout := &url.Error{Op: "Get", URL: "https://grandhotel.com", Err: context.DeadlineExceeded}
	assert.True(t, p.ShouldRetry(timeout, 1))

	assert.False(t, p.ShouldRetry(errors.New("captcha_detected"), 1), "non-transport errors are not retried")
}

func TestBackoffExponentialCapped(t *testing.T) {
	t.Parallel()

	p := discovery.NewRetryPolicy(5, time.Second, 4*time.Second)

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 4*time.Second, p.Backoff(4), "cap holds")
	assert.Equal(t, time.Second, p.Backoff(0), "floor at first attempt")
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := discovery.NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(10))
}
