package utils

import (
	"context"
	"errors"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	testCases := []struct {
		name      string
		err       *AppError
		code      ErrorCode
		transient bool
	}{
		{
			name:      "Queue full rejection",
			err:       NewQueueFullError(20),
			code:      ErrorCodeRejected,
			transient: false,
		},
		{
			name:      "Per-user limit rejection",
			err:       NewUserLimitError(2),
			code:      ErrorCodeRejected,
			transient: false,
		},
		{
			name:      "Transient network",
			err:       NewTransientNetworkError("https://youtu.be/x", errors.New("conn reset")),
			code:      ErrorCodeTransientNetwork,
			transient: true,
		},
		{
			name:      "Output too large",
			err:       NewOutputTooLargeError(100<<20, 50<<20),
			code:      ErrorCodeOutputTooLarge,
			transient: false,
		},
		{
			name:      "Timeout",
			err:       NewTimeoutError("https://youtu.be/x"),
			code:      ErrorCodeTimeout,
			transient: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, tc.err.Code)
			}
			if tc.err.Transient() != tc.transient {
				t.Errorf("expected transient=%v", tc.transient)
			}
			if tc.err.UserMessage == "" {
				t.Error("expected non-empty user message")
			}
		})
	}
}

func TestAsAppError(t *testing.T) {
	if AsAppError(nil) != nil {
		t.Error("nil error should stay nil")
	}

	orig := NewSourceUnavailableError("https://youtu.be/x", errors.New("410"))
	if got := AsAppError(orig); got != orig {
		t.Error("AppError should pass through unchanged")
	}

	if got := AsAppError(context.DeadlineExceeded); got.Code != ErrorCodeTimeout {
		t.Errorf("deadline exceeded should classify as TIMEOUT, got %s", got.Code)
	}

	if got := AsAppError(context.Canceled); got.Code != ErrorCodeTransientNetwork {
		t.Errorf("cancellation should classify as TRANSIENT_NETWORK, got %s", got.Code)
	}
	if got := AsAppError(context.Canceled); got.Code == ErrorCodeUnknown {
		t.Error("cancellation is an expected condition and must never page as UNKNOWN")
	}

	if got := AsAppError(errors.New("boom")); got.Code != ErrorCodeUnknown {
		t.Errorf("plain error should classify as UNKNOWN, got %s", got.Code)
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := GenerateToken(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a) != 8 {
		t.Errorf("expected 8 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("two tokens should not collide")
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	correlationID := GenerateCorrelationID()
	if correlationID == "" {
		t.Error("Expected non-empty correlation ID")
	}
}
