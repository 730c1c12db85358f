package bybit

import (
	"fmt"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// APIError represents a Bybit API error with its retCode
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit API error %d: %s", e.Code, e.Message)
}

// Unwrap maps Bybit retCodes onto the shared exchange sentinels so that
// callers can classify with errors.Is without importing this package.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case ErrCodeOrderNotFound, ErrCodeOrderNotExists:
		return exchange.ErrOrderNotFound
	case ErrCodeRateLimitExceeded, ErrCodeIPRateLimit:
		return exchange.ErrRateLimited
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
		return exchange.ErrAuth
	case 500, 502, 503, 504:
		return exchange.ErrTransient
	}
	return nil
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey     = 10003
	ErrCodeInvalidSignature  = 10004
	ErrCodeInvalidTimestamp  = 10005
	ErrCodeRateLimitExceeded = 10006
	ErrCodeIPRateLimit       = 10018
	ErrCodeOrderNotExists    = 110001
	ErrCodeOrderNotFound     = 170213
	ErrCodeInsufficientFunds = 110007
)

// NewAPIError creates a new APIError
func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// ParseAPIError converts a non-zero retCode into an error, nil otherwise.
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return NewAPIError(retCode, retMsg)
}
