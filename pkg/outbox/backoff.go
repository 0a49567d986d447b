package outbox

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns base * 2^(attempts-1), capped at maxBackoff.
func Backoff(attempts int, base, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempts-1)) * float64(base))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func backoff(attempts int, maxBackoff time.Duration) time.Duration {
	return Backoff(attempts, time.Second, maxBackoff)
}

// Jitter returns a random duration in [0, maxJitter].
func Jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 || r == nil {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}
