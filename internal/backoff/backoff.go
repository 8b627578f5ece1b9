// Package backoff centralizes the retry delay policy shared by all
// requeue paths.
package backoff

import "time"

// Delay computes the exponential retry delay for the given attempt:
// base << retryCount, capped. retryCount 0 yields base.
func Delay(retryCount int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
