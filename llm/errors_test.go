package llm

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorFromStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{400, "*llm.InvalidRequestError"},
		{401, "*llm.AuthenticationError"},
		{403, "*llm.AuthenticationError"},
		{404, "*llm.ModelNotFoundError"},
		{413, "*llm.ContextLengthError"},
		{429, "*llm.RateLimitError"},
		{500, "*llm.ServerError"},
		{503, "*llm.ServerError"},
	}

	for _, tc := range cases {
		err := ErrorFromStatusCode(tc.status, "oops", "test", nil)
		got := typeName(err)
		if got != tc.want {
			t.Errorf("status %d: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *InvalidRequestError:
		return "*llm.InvalidRequestError"
	case *AuthenticationError:
		return "*llm.AuthenticationError"
	case *ModelNotFoundError:
		return "*llm.ModelNotFoundError"
	case *ContextLengthError:
		return "*llm.ContextLengthError"
	case *RateLimitError:
		return "*llm.RateLimitError"
	case *ServerError:
		return "*llm.ServerError"
	default:
		return "other"
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		&RateLimitError{},
		&ServerError{},
		&NetworkError{},
		&RequestTimeoutError{},
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("%T should be retryable", err)
		}
	}

	permanent := []error{
		&AuthenticationError{},
		&ModelNotFoundError{},
		&InvalidRequestError{},
		&ContextLengthError{},
		&ConfigurationError{},
		&EmptyResponseError{},
	}
	for _, err := range permanent {
		if IsRetryable(err) {
			t.Errorf("%T should not be retryable", err)
		}
	}

	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{
		ProviderError: ProviderError{
			GatewayError: GatewayError{Message: "rate limit exceeded"},
			Provider:     "gateway",
		},
		WaitTime: 12 * time.Second,
	}
	if !strings.Contains(err.Error(), "12.0s") {
		t.Errorf("expected wait time in message, got %q", err.Error())
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &NetworkError{GatewayError: GatewayError{Message: "unreachable", Cause: cause}}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestFallbackExhaustedErrorListsProviders(t *testing.T) {
	err := &FallbackExhaustedError{
		GatewayError: GatewayError{Message: "all providers failed"},
		Attempts: map[string]error{
			"ollama": errors.New("connection refused"),
			"groq":   errors.New("not available"),
		},
	}
	msg := err.Error()
	if !strings.Contains(msg, "ollama") || !strings.Contains(msg, "groq") {
		t.Errorf("expected each attempted provider named, got %q", msg)
	}
}
