// Package ratelimit keeps one token bucket per outbound host, optionally
// under a global bucket shared by every host.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a token bucket: Capacity tokens, one refilled every RefillInterval.
type Limit struct {
	Capacity       int
	RefillInterval time.Duration
}

// HostLimiter hands out tokens per host. Hosts without an explicit limit share
// the default settings but each gets its own bucket.
type HostLimiter struct {
	mu      sync.Mutex
	def     Limit
	perHost map[string]Limit
	buckets map[string]*rate.Limiter
	global  *rate.Limiter
	retryAt map[string]time.Time
	nowFunc func() time.Time
}

// New creates a limiter. perHost keys are matched case-insensitively.
func New(def Limit, perHost map[string]Limit) *HostLimiter {
	hosts := make(map[string]Limit, len(perHost))
	for h, l := range perHost {
		hosts[strings.ToLower(h)] = l
	}
	return &HostLimiter{
		def:     def,
		perHost: hosts,
		buckets: make(map[string]*rate.Limiter),
		retryAt: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// WithGlobal caps the combined request rate across all hosts. A zero
// capacity leaves the limiter per-host only.
func (h *HostLimiter) WithGlobal(l Limit) *HostLimiter {
	if l.Capacity > 0 && l.RefillInterval > 0 {
		h.global = rate.NewLimiter(rate.Every(l.RefillInterval), l.Capacity)
	}
	return h
}

func (h *HostLimiter) bucket(host string) (*rate.Limiter, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.buckets[host]
	if !ok {
		l, ok := h.perHost[host]
		if !ok {
			l = h.def
		}
		b = rate.NewLimiter(rate.Every(l.RefillInterval), l.Capacity)
		h.buckets[host] = b
	}
	return b, h.retryAt[host]
}

// Wait suspends until host has a token or ctx ends, and returns how long it waited.
// It also honours any pause recorded by Pause.
func (h *HostLimiter) Wait(ctx context.Context, host string) (time.Duration, error) {
	host = strings.ToLower(host)
	start := h.nowFunc()
	b, retryAt := h.bucket(host)

	if d := retryAt.Sub(start); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return h.nowFunc().Sub(start), ctx.Err()
		case <-timer.C:
		}
	}

	// The host token comes first so a slow host never holds global tokens.
	err := b.Wait(ctx)
	if err == nil && h.global != nil {
		err = h.global.Wait(ctx)
	}
	return h.nowFunc().Sub(start), err
}

// Allow takes a token for host without waiting and reports whether one was available.
func (h *HostLimiter) Allow(host string) bool {
	host = strings.ToLower(host)
	b, retryAt := h.bucket(host)
	if h.nowFunc().Before(retryAt) {
		return false
	}
	if h.global != nil && h.global.Tokens() < 1 {
		return false
	}
	if !b.Allow() {
		return false
	}
	return h.global == nil || h.global.Allow()
}

// Pause stops handing out tokens for host for d, e.g. after a 429 with Retry-After.
func (h *HostLimiter) Pause(host string, d time.Duration) {
	if d <= 0 {
		return
	}
	host = strings.ToLower(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	until := h.nowFunc().Add(d)
	if until.After(h.retryAt[host]) {
		h.retryAt[host] = until
	}
}
