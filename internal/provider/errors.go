package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrorCategory is the normalized failure taxonomy. Every error crossing the
// adapter boundary is assigned a category exactly once; downstream code never
// reclassifies.
type ErrorCategory string

const (
	CategoryRateLimit        ErrorCategory = "RATE_LIMIT"
	CategoryAPIKeyInvalid    ErrorCategory = "API_KEY_INVALID"
	CategoryModelUnavailable ErrorCategory = "MODEL_UNAVAILABLE"
	CategoryTimeout          ErrorCategory = "TIMEOUT"
	CategoryNetworkError     ErrorCategory = "NETWORK_ERROR"
	CategoryUnknown          ErrorCategory = "UNKNOWN"
)

// Retryable reports whether retrying the same provider can plausibly succeed.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryRateLimit, CategoryTimeout, CategoryNetworkError:
		return true
	}
	return false
}

// Error is a classified provider failure.
type Error struct {
	Category          ErrorCategory
	Message           string
	ProviderType      Type
	Retryable         bool
	RetryAfterSeconds int
	RequestID         string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.ProviderType, e.Category, e.Message)
}

// StatusError captures an HTTP status code from a vendor response. Adapters
// return it so Classify can inspect the status without vendor knowledge.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds or HTTP
// date) into RetryAfterSecs. Invalid values are ignored.
func (e *StatusError) ParseRetryAfter(v string) {
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
		return
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(d.Seconds())
		}
	}
}

// Classify normalizes an adapter failure into the category taxonomy. The
// status code wins when the error carries one; otherwise message heuristics
// apply. The resulting category is final.
func Classify(err error, ptype Type) *Error {
	pe := &Error{
		Message:      err.Error(),
		ProviderType: ptype,
		Category:     CategoryUnknown,
	}

	var se *StatusError
	switch {
	case errors.As(err, &se):
		pe.Category = classifyStatus(se)
		pe.RetryAfterSeconds = se.RetryAfterSecs
	case errors.Is(err, context.DeadlineExceeded):
		pe.Category = CategoryTimeout
	case isNetError(err):
		pe.Category = CategoryNetworkError
	default:
		pe.Category = classifyMessage(err.Error())
	}

	pe.Retryable = pe.Category.Retryable()
	return pe
}

func classifyStatus(se *StatusError) ErrorCategory {
	body := strings.ToLower(se.Body)
	switch {
	case se.StatusCode == 429:
		return CategoryRateLimit
	case se.StatusCode == 401 || se.StatusCode == 403:
		return CategoryAPIKeyInvalid
	case se.StatusCode == 404 && strings.Contains(body, "model"):
		return CategoryModelUnavailable
	case se.StatusCode == 408 || se.StatusCode == 504:
		return CategoryTimeout
	case se.StatusCode >= 500:
		return CategoryNetworkError
	}
	return classifyMessage(body)
}

// classifyMessage applies the message heuristics in precedence order.
func classifyMessage(msg string) ErrorCategory {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit") || strings.Contains(m, "429"):
		return CategoryRateLimit
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "401") || strings.Contains(m, "api key"):
		return CategoryAPIKeyInvalid
	case strings.Contains(m, "model") && (strings.Contains(m, "not found") || strings.Contains(m, "unavailable")):
		return CategoryModelUnavailable
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") ||
		strings.Contains(m, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(m, "network") || strings.Contains(m, "connection") || strings.Contains(m, "fetch"):
		return CategoryNetworkError
	}
	return CategoryUnknown
}

func isNetError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		// Timeouts are classified by the message path as TIMEOUT.
		return !ne.Timeout()
	}
	return false
}
