package usecase

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds and spaces retries of one reference.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the randomization factor: delays land in [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
}

// Delay returns the wait before the attempt following attempt n (1-based):
// BaseDelay * Multiplier^(n-1), jittered and capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether no attempt may follow attempt n.
func (p RetryPolicy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}
