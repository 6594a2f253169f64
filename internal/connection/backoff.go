package connection

import (
	"math"
	"time"
)

// Backoff returns the reconnect delay for a 0-indexed attempt:
// min(base * factor^attempt, limit).
func Backoff(attempt int, base time.Duration, factor float64, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// backoff applies the manager's configured policy.
func (c ManagerConfig) backoff(attempt int) time.Duration {
	return Backoff(attempt, c.ReconnectBaseWait, c.ReconnectFactor, c.ReconnectMaxWait)
}
