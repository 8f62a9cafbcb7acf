package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lodgekit/social-discovery/internal/metrics"
)

// Governor enforces per-domain politeness: a minimum delay between request
// starts and a cap on concurrently held slots. State is per-process and
// rebuilt from zero on restart; for multi-process deployments politeness is
// therefore best-effort across the fleet and strict only within one worker
// process.
type Governor struct {
	delay         time.Duration
	maxConcurrent int

	mu      sync.Mutex
	domains map[string]*domainState
}

// domainState carries one domain's politeness bookkeeping. lastMu guards
// the check-then-update on lastRequest so two concurrent callers never both
// compute a stale elapsed value. slots is a counting semaphore.
type domainState struct {
	lastMu      sync.Mutex
	lastRequest time.Time
	slots       chan struct{}
}

// NewGovernor builds a Governor. Domain entries are created lazily and
// never removed; cardinality is bounded by the input job set.
func NewGovernor(delay time.Duration, maxConcurrent int) *Governor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Governor{
		delay:         delay,
		maxConcurrent: maxConcurrent,
		domains:       make(map[string]*domainState),
	}
}

// AcquireSlot blocks until fewer than the configured cap of slots are held
// for the domain, then holds one. The slot spans the entire
// fetch-through-persist sequence; release it only after the job's outcome
// has been persisted.
func (g *Governor) AcquireSlot(ctx context.Context, domain string) error {
	state := g.domain(domain)
	select {
	case state.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire slot for %s: %w", domain, ctx.Err())
	}
}

// ReleaseSlot returns a slot previously obtained via AcquireSlot.
func (g *Governor) ReleaseSlot(domain string) {
	state := g.domain(domain)
	select {
	case <-state.slots:
	default:
		// Release without acquire is a caller bug; don't block on it.
	}
}

// RespectDelay blocks until at least the configured delay has elapsed since
// the domain's last request, then records the new request time. The wait
// and the timestamp update happen under the domain's own lock, so only
// same-domain callers serialize here.
func (g *Governor) RespectDelay(ctx context.Context, domain string) error {
	if g.delay <= 0 {
		return nil
	}
	state := g.domain(domain)
	state.lastMu.Lock()
	defer state.lastMu.Unlock()

	if !state.lastRequest.IsZero() {
		elapsed := time.Since(state.lastRequest)
		if wait := g.delay - elapsed; wait > 0 {
			metrics.ObservePolitenessWait(domain, wait)
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("politeness delay for %s: %w", domain, ctx.Err())
			}
		}
	}
	state.lastRequest = time.Now()
	return nil
}

func (g *Governor) domain(domain string) *domainState {
	key := strings.ToLower(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.domains[key]
	if !ok {
		state = &domainState{slots: make(chan struct{}, g.maxConcurrent)}
		g.domains[key] = state
	}
	return state
}
