package execution

import "time"

// Delay returns the capped exponential backoff before retry attempt n
// (1-indexed): base * 2^(n-1), never exceeding maxDelay.
func Delay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d <= 0 || d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
