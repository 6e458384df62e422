// Package connection tracks reachability of the interview service and owns
// the reconnection backoff policy shared by every retry path.
package connection

import (
	"math"
	"time"
)

// Policy is an exponential backoff schedule. A zero Cap means uncapped.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultPolicy is 1s doubling up to 30s, five attempts.
var DefaultPolicy = Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}

// Delay returns the wait before the given 1-based attempt:
// Base * 2^(attempt-1), capped at Cap.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.Base
	if p.Cap > 0 && (d > p.Cap || d < 0) {
		d = p.Cap
	}
	return d
}

// Delays returns the full schedule for MaxAttempts attempts.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, p.MaxAttempts)
	for i := 1; i <= p.MaxAttempts; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}
