package session

import (
	"time"
)

const (
	// Startup profile reconciliation tries this many times before giving up
	// and dropping the cached session.
	defaultProfileAttempts = 4

	maxBackoffDelay = 8 * time.Second
)

// backoffDelay returns how long to wait before attempt n (1-based).
// The schedule is 0s, 1s, 2s, 4s, ... capped at maxBackoffDelay. Kept as a
// pure function so the schedule is testable without timers.
func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Second << (attempt - 2)
	if delay > maxBackoffDelay || delay <= 0 {
		return maxBackoffDelay
	}
	return delay
}
