// Package backoff computes capped exponential reconnect delays.
package backoff

import "time"

// Default delays used by the notification stream and the tracking socket.
const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// Policy doubles Base for every attempt and never exceeds Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Default returns the 1s/30s policy.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Delay returns min(Base * 2^attempt, Max). Negative attempts are treated as 0.
func (p Policy) Delay(attempt int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		// stop doubling before the shift can overflow
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}

	if d > max {
		return max
	}
	return d
}
