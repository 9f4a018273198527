package request

import (
	"math"
	"time"
)

// BackoffPolicy computes retry waits as Multiplier * 2^(attempt-1) seconds,
// clamped to [Min, Max]. Attempt numbers start at 1.
type BackoffPolicy struct {
	Multiplier float64
	Min        time.Duration
	Max        time.Duration
}

// Wait returns the pause before the attempt following the given one.
func (p BackoffPolicy) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := time.Duration(p.Multiplier * math.Pow(2, float64(attempt-1)) * float64(time.Second))
	if wait < p.Min {
		wait = p.Min
	}
	if wait > p.Max {
		wait = p.Max
	}
	return wait
}
