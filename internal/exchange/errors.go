package exchange

import "errors"

// Sentinel errors surfaced through the Client interface. Implementations
// wrap exchange-specific failures so callers can classify with errors.Is.
var (
	// ErrOrderNotFound means a status query did not find the order. This
	// is ambiguous on most exchanges: the order may be filled, cancelled,
	// or evicted from the realtime endpoint. Callers escalate to history
	// lookups before drawing conclusions.
	ErrOrderNotFound = errors.New("order not found")

	// ErrRateLimited marks a 429-class response. Always retryable with
	// backoff.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAuth marks a signature or API-key failure. Never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrTransient marks network errors, timeouts and 5xx responses.
	// Retryable with bounded attempts.
	ErrTransient = errors.New("transient exchange error")
)

// IsRetryable reports whether a call that returned err may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
