package httpfetch

import (
	"sync"
	"time"
)

// BreakerState is the state of one host's circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// Breakers tracks a circuit per host. After threshold consecutive transient
// failures the host's circuit opens for cooldown; then one probe request is
// let through, and its outcome closes or reopens the circuit.
type Breakers struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	hosts     map[string]*breaker
	now       func() time.Time
}

// NewBreakers creates the breaker set. A threshold of zero disables it.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	return &Breakers{
		threshold: threshold,
		cooldown:  cooldown,
		hosts:     make(map[string]*breaker),
		now:       time.Now,
	}
}

func (b *Breakers) get(host string) *breaker {
	br, ok := b.hosts[host]
	if !ok {
		br = &breaker{state: BreakerClosed}
		b.hosts[host] = br
	}
	return br
}

// Allow reports whether a request to host may proceed.
func (b *Breakers) Allow(host string) bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(host)
	switch br.state {
	case BreakerOpen:
		if b.now().Sub(br.openedAt) < b.cooldown {
			return false
		}
		br.state = BreakerHalfOpen
		br.probing = true
		return true
	case BreakerHalfOpen:
		if br.probing {
			return false
		}
		br.probing = true
		return true
	}
	return true
}

// Success closes host's circuit.
func (b *Breakers) Success(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(host)
	br.state = BreakerClosed
	br.failures = 0
	br.probing = false
}

// Failure records a transient failure against host.
func (b *Breakers) Failure(host string) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(host)
	br.failures++
	br.probing = false
	if br.state == BreakerHalfOpen || br.failures >= b.threshold {
		br.state = BreakerOpen
		br.openedAt = b.now()
	}
}

// Release gives back a probe slot that was granted but never used.
func (b *Breakers) Release(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(host).probing = false
}

// ReopenAt reports when a rejected request to host is worth trying again:
// the end of the cooldown while open, or shortly after the in-flight probe
// while half-open.
func (b *Breakers) ReopenAt(host string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(host)
	now := b.now()
	if br.state == BreakerOpen {
		if at := br.openedAt.Add(b.cooldown); at.After(now) {
			return at
		}
	}
	wait := b.cooldown / 10
	if wait > time.Second {
		wait = time.Second
	}
	return now.Add(wait)
}

// State returns host's current state.
func (b *Breakers) State(host string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.get(host)
	if br.state == BreakerOpen && b.now().Sub(br.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return br.state
}
