package tankapi

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("%w: dial", ErrTransport), true},
		{"too many requests", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"conflict", &APIError{StatusCode: 409}, false},
		{"malformed", ErrMalformedResponse, false},
		{"canceled", fmt.Errorf("%w: %w", ErrTransport, context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, ShouldRetry: Retryable}
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &APIError{StatusCode: 400}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	calls := 0
	sentinel := errors.New("still down")
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	policy := DefaultRetryPolicy(10)
	if policy.MaxAttempts != 11 {
		t.Fatalf("MaxAttempts = %d", policy.MaxAttempts)
	}
	first := policy.DelayFunc(1, nil)
	if first < baseRetryDelay || first >= baseRetryDelay*3/2 {
		t.Fatalf("first delay = %v", first)
	}
	if late := policy.DelayFunc(20, nil); late > maxRetryDelay*3/2 {
		t.Fatalf("delay not capped: %v", late)
	}
	if DefaultRetryPolicy(-1).MaxAttempts != 1 {
		t.Fatalf("negative retries should mean a single attempt")
	}
}
