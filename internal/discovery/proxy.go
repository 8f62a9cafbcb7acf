package discovery

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"
)

// proxyState tracks the health of one proxy. A proxy is available when it
// has never been quarantined or its quarantine has elapsed.
type proxyState struct {
	url              string
	failures         int
	quarantinedUntil time.Time
}

func (p *proxyState) available(now time.Time) bool {
	return p.quarantinedUntil.IsZero() || !p.quarantinedUntil.After(now)
}

// ProxyPool hands out healthy proxies and quarantines failing ones.
// Quarantine is lifted lazily on the next availability check.
type ProxyPool struct {
	mu               sync.Mutex
	proxies          map[string]*proxyState
	failureThreshold int
	quarantine       time.Duration
	now              func() time.Time
}

// NewProxyPool builds an empty pool.
func NewProxyPool(failureThreshold int, quarantine time.Duration) *ProxyPool {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if quarantine <= 0 {
		quarantine = 15 * time.Minute
	}
	return &ProxyPool{
		proxies:          make(map[string]*proxyState),
		failureThreshold: failureThreshold,
		quarantine:       quarantine,
		now:              time.Now,
	}
}

// LoadFromFile merges newline-separated proxy URLs into the pool and returns
// the number of entries read. Re-adding a known proxy keeps its health state.
func (p *ProxyPool) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open proxy list: %w", err)
	}
	defer func() { _ = f.Close() }()

	count := 0
	scanner := bufio.NewScanner(f)
	p.mu.Lock()
	defer p.mu.Unlock()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, exists := p.proxies[line]; !exists {
			p.proxies[line] = &proxyState{url: line}
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read proxy list: %w", err)
	}
	return count, nil
}

// GetProxy returns a uniformly-random available proxy, or "" when the pool
// is empty or fully quarantined; callers then fetch proxy-less.
func (p *ProxyPool) GetProxy() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	available := make([]string, 0, len(p.proxies))
	for _, state := range p.proxies {
		if state.available(now) {
			available = append(available, state.url)
		}
	}
	if len(available) == 0 {
		return ""
	}
	return available[rand.IntN(len(available))]
}

// RecordSuccess resets the proxy's failure counter and lifts any quarantine.
func (p *ProxyPool) RecordSuccess(proxyURL string) {
	if proxyURL == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.ensureLocked(proxyURL)
	state.failures = 0
	state.quarantinedUntil = time.Time{}
}

// RecordFailure increments the failure counter; once it reaches the
// threshold the proxy is quarantined until now + the quarantine duration.
func (p *ProxyPool) RecordFailure(proxyURL string) {
	if proxyURL == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.ensureLocked(proxyURL)
	state.failures++
	if state.failures >= p.failureThreshold {
		state.quarantinedUntil = p.now().Add(p.quarantine)
	}
}

// Size returns the total number of proxies, quarantined or not.
func (p *ProxyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

func (p *ProxyPool) ensureLocked(proxyURL string) *proxyState {
	state, ok := p.proxies[proxyURL]
	if !ok {
		state = &proxyState{url: proxyURL}
		p.proxies[proxyURL] = state
	}
	return state
}
