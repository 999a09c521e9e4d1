package llm

import (
	"fmt"
	"strings"
	"time"
)

// GatewayError is the base error type for everything the llm package
// returns.
type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error attributed to one backend.
type ProviderError struct {
	GatewayError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type ModelNotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type EmptyResponseError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ GatewayError }
type NetworkError struct{ GatewayError }
type AbortError struct{ GatewayError }
type ConfigurationError struct{ GatewayError }

// RateLimitError is raised either by a backend (HTTP 429) or by the
// gateway's own sliding-window limiter. WaitTime is how long the caller
// must wait before the next call can be admitted.
type RateLimitError struct {
	ProviderError
	WaitTime time.Duration
}

func (e *RateLimitError) Error() string {
	if e.WaitTime > 0 {
		return fmt.Sprintf("%s (retry in %.1fs)", e.Message, e.WaitTime.Seconds())
	}
	return e.ProviderError.Error()
}

// FallbackExhaustedError aggregates the per-provider failures of one
// generate call whose every fallback candidate failed or was unavailable.
type FallbackExhaustedError struct {
	GatewayError
	Attempts map[string]error
}

func (e *FallbackExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for provider, err := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", provider, err))
	}
	return fmt.Sprintf("%s [%s]", e.Message, strings.Join(parts, "; "))
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate typed
// error.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *time.Duration) error {
	pe := ProviderError{
		GatewayError: GatewayError{Message: message},
		Provider:     provider,
		StatusCode:   statusCode,
		RetryAfter:   retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401, 403:
		return &AuthenticationError{ProviderError: pe}
	case 404:
		return &ModelNotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{GatewayError: GatewayError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		rl := &RateLimitError{ProviderError: pe}
		if retryAfter != nil {
			rl.WaitTime = *retryAfter
		}
		return rl
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry against the same
// provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthenticationError:
		return false
	case *ModelNotFoundError:
		return false
	case *InvalidRequestError:
		return false
	case *ContextLengthError:
		return false
	case *ConfigurationError:
		return false
	case *AbortError:
		return false
	case *EmptyResponseError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *NetworkError:
		return true
	case *RequestTimeoutError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}
