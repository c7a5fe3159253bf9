package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes the wait before a given retry attempt.
// Implementations must be safe for concurrent use.
type Policy interface {
	// Delay returns the backoff delay for the attempt number.
	// Attempt starts at 1 for the first retry.
	Delay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter.
// Jitter spreads retries from concurrent workers so they do not arrive
// at a recovering dependency in lockstep.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// Delay calculates min(InitialDelay * Multiplier^(attempt-1) * (1 ± Jitter), MaxDelay).
// Attempts below 1 are treated as the first attempt.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := b.InitialDelay
	if initial == 0 {
		initial = time.Second
	}

	max := b.MaxDelay
	if max == 0 {
		max = 10 * time.Minute
	}

	multiplier := b.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if b.Jitter > 0 {
		// Random factor between (1-Jitter) and (1+Jitter)
		delay *= 1 + (rand.Float64()*2-1)*b.Jitter
	}

	if delay > float64(max) {
		delay = float64(max)
	}

	return time.Duration(delay)
}
