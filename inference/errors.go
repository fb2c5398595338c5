package inference

import (
	"errors"
	"fmt"
)

// BoundaryError is the base error type for all inference boundary failures.
type BoundaryError struct {
	Message string
	Cause   error
}

func (e *BoundaryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BoundaryError) Unwrap() error {
	return e.Cause
}

// APIError represents an error returned by a model provider.
type APIError struct {
	BoundaryError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ APIError }
type InvalidRequestError struct{ APIError }
type RateLimitError struct{ APIError }
type ServerError struct{ APIError }
type ContextLengthError struct{ APIError }

// Non-provider errors.

type NetworkError struct{ BoundaryError }
type TimeoutError struct{ BoundaryError }
type AbortError struct{ BoundaryError }

// ConfigurationError indicates the client cannot be built at all, for
// example when no provider credentials are available.
type ConfigurationError struct{ BoundaryError }

// FromStatusCode maps an HTTP status code to the appropriate error type.
func FromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	ae := APIError{
		BoundaryError: BoundaryError{Message: message},
		Provider:      provider,
		StatusCode:    statusCode,
		RetryAfter:    retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{APIError: ae}
	case 401, 403:
		return &AuthenticationError{APIError: ae}
	case 408:
		return &TimeoutError{BoundaryError: BoundaryError{Message: message}}
	case 413:
		return &ContextLengthError{APIError: ae}
	case 429:
		ae.Retryable = true
		return &RateLimitError{APIError: ae}
	case 500, 502, 503, 504:
		ae.Retryable = true
		return &ServerError{APIError: ae}
	default:
		// Unknown status codes default to retryable.
		ae.Retryable = true
		return &ae
	}
}

// IsRetryable reports whether the error is safe to retry. Authentication,
// configuration, and request-shape failures are terminal; transient
// transport and server failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *APIError:
		return e.Retryable
	case *AuthenticationError, *InvalidRequestError, *ContextLengthError, *ConfigurationError, *AbortError:
		return false
	case *RateLimitError, *ServerError, *NetworkError, *TimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// IsConfiguration reports whether the error indicates missing or invalid
// client configuration (for example, absent credentials).
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
