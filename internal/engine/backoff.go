package engine

import (
	"math"
	"math/rand"
	"time"
)

// NextRetryDelay returns the sleep before retrying after attempt N (1-based):
// InitialDelay * Multiplier^(N-1), capped by MaxDelay, jittered ±25%.
func NextRetryDelay(p RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = defaultMultiplier
	}
	delay := float64(p.InitialDelay)
	if attempt > 1 {
		delay = delay * math.Pow(mult, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := rand.Float64()
		if rng != nil {
			f = rng.Float64()
		}
		delay = delay * (0.75 + f/2)
	}
	return time.Duration(delay)
}
