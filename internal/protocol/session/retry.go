package session

import "time"

// ShouldRetry decides whether another connect attempt is allowed after a
// failure, given when the first attempt started.
func ShouldRetry(timeout time.Duration, startedAt, now time.Time) bool {
	switch timeout {
	case 0:
		return false
	case InfiniteConnectTimeout:
		return true
	}
	return now.Sub(startedAt) < timeout
}
