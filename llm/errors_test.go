package llm

import (
	"errors"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		retryable bool
	}{
		{400, "*llm.InvalidRequestError", false},
		{401, "*llm.AuthenticationError", false},
		{403, "*llm.AccessDeniedError", false},
		{404, "*llm.NotFoundError", false},
		{408, "*llm.RequestTimeoutError", true},
		{413, "*llm.ContextLengthError", false},
		{422, "*llm.InvalidRequestError", false},
		{429, "*llm.RateLimitError", true},
		{500, "*llm.ServerError", true},
		{502, "*llm.ServerError", true},
		{503, "*llm.ServerError", true},
		{504, "*llm.ServerError", true},
		{418, "*llm.ProviderError", true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "openai", nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := typeName(err); got != tt.wantType {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.wantType, got)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, got)
		}
	}
}

func typeName(err error) string {
	switch err.(type) {
	case *InvalidRequestError:
		return "*llm.InvalidRequestError"
	case *AuthenticationError:
		return "*llm.AuthenticationError"
	case *AccessDeniedError:
		return "*llm.AccessDeniedError"
	case *NotFoundError:
		return "*llm.NotFoundError"
	case *RequestTimeoutError:
		return "*llm.RequestTimeoutError"
	case *ContextLengthError:
		return "*llm.ContextLengthError"
	case *RateLimitError:
		return "*llm.RateLimitError"
	case *ServerError:
		return "*llm.ServerError"
	case *ProviderError:
		return "*llm.ProviderError"
	default:
		return "unknown"
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &ClientError{Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "wrapper: underlying" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestIsRetryableUnknownDefaultsTrue(t *testing.T) {
	if !IsRetryable(errors.New("mystery")) {
		t.Error("unknown errors default to retryable")
	}
}

func TestIsRetryableAbort(t *testing.T) {
	err := &AbortError{ClientError: ClientError{Message: "cancelled"}}
	if IsRetryable(err) {
		t.Error("abort must not be retryable")
	}
}
