package recovery

import "math/rand"

const (
	baseDelayMs = 1000
	maxDelayMs  = 30000
)

// Backoff returns the retry delay in milliseconds for a 1-based attempt
// number: exponential from 1s, capped at 30s, plus up to 10% jitter.
func Backoff(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	delay := maxDelayMs
	// Guard the shift: attempt 6 already exceeds the cap.
	if attempt <= 6 {
		delay = baseDelayMs << (attempt - 1)
		if delay > maxDelayMs {
			delay = maxDelayMs
		}
	}
	jitter := rand.Intn(delay/10 + 1)
	return delay + jitter
}
