package control

import "time"

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// Backoff is RetryBackoffSeconds as a duration.
func Backoff(attempt int) time.Duration {
	return time.Duration(RetryBackoffSeconds(attempt)) * time.Second
}
