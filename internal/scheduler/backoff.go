package scheduler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes the delay before a failed job becomes claimable again.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the retry windows used across the task set.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 5 * time.Second,
		Max:  10 * time.Minute,
	}
}

// Delay returns a jittered exponential delay for the given attempt count
// (1 = first failure). Half the window is fixed, half is random, so
// simultaneous failures do not reschedule onto the same instant.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	half := time.Duration(d / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
