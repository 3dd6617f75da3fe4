package reliability

import (
	"net/http"
	"time"
)

// IsRetryableHTTPStatus reports whether a chat API response code is worth
// another attempt: rate limiting and upstream unavailability.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt. Only transport
// failures are; storage and protocol failures are final for the operation.
func IsRetryable(err error) bool {
	return err != nil && Is(err, KindTransport)
}

// ExponentialBackoff returns base doubled attempt times, never above limit.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if limit > 0 && d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
