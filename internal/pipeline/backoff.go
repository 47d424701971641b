package pipeline

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retrying after a failed attempt.
type Backoff struct {
	Base time.Duration
	// Max caps the delay (0 = uncapped).
	Max time.Duration
	// Jitter adds up to this fraction of the delay (0 = deterministic).
	Jitter float64
}

// Delay returns Base * 2^(attempt-1), capped at Max, for the attempt that just failed.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * rand.Float64())
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
