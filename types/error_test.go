package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamUnavailable, "upstream failed").
		WithCause(root).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamUnavailable {
		t.Fatalf("expected code %s, got %s", ErrUpstreamUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_NonRetryableByDefault(t *testing.T) {
	t.Parallel()

	err := NewError(ErrInvalidRequest, "topic is empty")
	if IsRetryable(err) {
		t.Fatalf("validation errors must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors must not be retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no code")
	}
}
