// Package hostlimit bounds concurrent requests per host and spaces consecutive calls.
//
// Every host gets a weighted semaphore for its concurrency ceiling and a burst-1 token bucket
// whose refill interval is the minimum spacing between calls. Both are created lazily the first
// time a host is seen and live for the lifetime of the Scheduler.
package hostlimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// Config holds per-host ceilings and spacing.
type Config struct {
	DefaultLimit   int
	DefaultSpacing time.Duration
	Limits         map[string]int
	Spacing        map[string]time.Duration
	// PreJitter and PostJitter are the upper bounds of the random sleeps before acquiring a
	// permit and after acquiring it.
	PreJitter  time.Duration
	PostJitter time.Duration
}

// DefaultConfig returns the built-in host table.
func DefaultConfig() Config {
	limits := map[string]int{"news.google.com": 4}
	for _, h := range []string{
		"feeds.reuters.com", "feeds.bloomberg.com", "marketwatch.com", "www.ft.com",
		"www.investing.com", "www.fxstreet.com", "www.forexlive.com", "www.coindesk.com",
		"cointelegraph.com", "www.federalreserve.gov", "www.ecb.europa.eu", "www.bis.org",
		"www.eia.gov", "www.bankofengland.co.uk",
	} {
		limits[h] = 2
	}
	return Config{
		DefaultLimit:   2,
		DefaultSpacing: time.Second,
		Limits:         limits,
		Spacing:        map[string]time.Duration{"news.google.com": 500 * time.Millisecond},
		PreJitter:      50 * time.Millisecond,
		PostJitter:     200 * time.Millisecond,
	}
}

type hostState struct {
	permits *semaphore.Weighted
	spacing *rate.Limiter
}

// Scheduler hands out per-host permits. It is safe for concurrent use.
type Scheduler struct {
	cfg Config

	mu    sync.Mutex
	hosts map[string]*hostState

	jitter func(max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler. Non-positive defaults fall back to 2 permits and 1s spacing.
func New(cfg Config) *Scheduler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 2
	}
	if cfg.DefaultSpacing < 0 {
		cfg.DefaultSpacing = time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		hosts:  make(map[string]*hostState),
		jitter: randomJitter,
		sleep:  sleepContext,
	}
}

// Permit is one unit of a host's concurrency ceiling.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

// Acquire waits for a free permit on host. It fails only when ctx ends.
func (s *Scheduler) Acquire(ctx context.Context, host string) (*Permit, error) {
	key := hostKey(host)
	state := s.state(key)

	if err := s.sleep(ctx, s.jitter(s.cfg.PreJitter)); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	start := time.Now()
	if err := state.permits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostWait(key, waited)
	}
	return &Permit{release: func() { state.permits.Release(1) }}, nil
}

// Throttle applies post-acquire jitter and then enforces the host's minimum spacing.
func (s *Scheduler) Throttle(ctx context.Context, host string) error {
	key := hostKey(host)
	state := s.state(key)

	if err := s.sleep(ctx, s.jitter(s.cfg.PostJitter)); err != nil {
		return fmt.Errorf("throttle %s: %w", key, err)
	}
	start := time.Now()
	if err := state.spacing.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostWait(key, waited)
	}
	return nil
}

func (s *Scheduler) state(key string) *hostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.hosts[key]; ok {
		return st
	}
	st := &hostState{
		permits: semaphore.NewWeighted(int64(s.limitFor(key))),
		spacing: newSpacingLimiter(s.spacingFor(key)),
	}
	s.hosts[key] = st
	return st
}

func (s *Scheduler) limitFor(key string) int {
	if n, ok := lookup(s.cfg.Limits, key); ok && n > 0 {
		return n
	}
	return s.cfg.DefaultLimit
}

func (s *Scheduler) spacingFor(key string) time.Duration {
	if d, ok := lookup(s.cfg.Spacing, key); ok && d >= 0 {
		return d
	}
	return s.cfg.DefaultSpacing
}

// lookup matches host[:port] first and then the bare hostname.
func lookup[V any](table map[string]V, key string) (V, bool) {
	if v, ok := table[key]; ok {
		return v, true
	}
	if h, _, err := net.SplitHostPort(key); err == nil {
		if v, ok := table[h]; ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

func newSpacingLimiter(spacing time.Duration) *rate.Limiter {
	if spacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(spacing), 1)
}

func hostKey(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "unknown"
	}
	return host
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
