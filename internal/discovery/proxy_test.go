package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyPoolQuarantineAfterThreshold(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(3, 15*time.Minute)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return current }

	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordFailure("http://proxy-a:8080")
	assert.Equal(t, "http://proxy-a:8080", pool.GetProxy(), "below threshold stays available")

	pool.RecordFailure("http://proxy-a:8080")
	assert.Empty(t, pool.GetProxy(), "at threshold the proxy is quarantined")

	// Quarantine lifts lazily once the window elapses.
	current = current.Add(15*time.Minute + time.Second)
	assert.Equal(t, "http://proxy-a:8080", pool.GetProxy())
}

func TestProxyPoolSuccessResets(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(3, 15*time.Minute)
	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordSuccess("http://proxy-a:8080")

	// Two more failures stay under the threshold after the reset.
	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordFailure("http://proxy-a:8080")
	assert.Equal(t, "http://proxy-a:8080", pool.GetProxy())
}

func TestProxyPoolSuccessLiftsQuarantine(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(2, time.Hour)
	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordFailure("http://proxy-a:8080")
	require.Empty(t, pool.GetProxy())

	pool.RecordSuccess("http://proxy-a:8080")
	assert.Equal(t, "http://proxy-a:8080", pool.GetProxy())
}

func TestProxyPoolEmptyReturnsBlank(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(5, time.Minute)
	assert.Empty(t, pool.GetProxy())

	pool.RecordFailure("") // blank proxy is ignored, not tracked
	assert.Zero(t, pool.Size())
}

func TestProxyPoolDrawsOnlyAvailable(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(1, time.Hour)
	pool.RecordSuccess("http://proxy-a:8080")
	pool.RecordSuccess("http://proxy-b:8080")
	pool.RecordFailure("http://proxy-b:8080")

	for i := 0; i < 20; i++ {
		assert.Equal(t, "http://proxy-a:8080", pool.GetProxy())
	}
}

func TestProxyPoolLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://proxy-a:8080\n\nhttp://proxy-b:8080\n"), 0o644))

	pool := NewProxyPool(2, time.Hour)
	n, err := pool.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, pool.Size())

	// Reloading keeps the health state of known proxies.
	pool.RecordFailure("http://proxy-a:8080")
	pool.RecordFailure("http://proxy-a:8080")
	_, err = pool.LoadFromFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "http://proxy-a:8080", pool.GetProxy())
}

func TestProxyPoolLoadFromFileMissing(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(2, time.Hour)
	_, err := pool.LoadFromFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
