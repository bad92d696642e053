package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff builds a backoff that never gives up on elapsed time.
// A randomization factor of zero yields exact intervals.
func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier, randomization float64) backoff.BackOff {
	return ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, 0, multiplier, randomization)
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier, randomization float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.RandomizationFactor = randomization
	exp.MaxElapsedTime = maxElapsed
	exp.Reset()
	return exp
}

// CalculateBackoffDuration returns the un-randomized delay that follows the
// given 1-based attempt.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt-1))
	if maxInterval > 0 && duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
