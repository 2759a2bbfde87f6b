package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		kind       ErrorKind
		code       string
		httpStatus int
	}{
		{"provider", NewProviderError("upstream broke", 502), KindProvider, "API_ERROR", 502},
		{"rate limit", NewRateLimitError("slow down", 42), KindRateLimit, "RATE_LIMIT_EXCEEDED", 429},
		{"authentication", NewAuthenticationError(""), KindAuthentication, "AUTHENTICATION_ERROR", 401},
		{"validation", NewValidationError("bad input", "apiKey"), KindValidation, "VALIDATION_ERROR", 400},
		{"parse", NewParseError("no content"), KindParse, "PARSE_ERROR", 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.HTTPStatus != tt.httpStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.httpStatus)
			}
		})
	}
}

func TestRateLimitError_WaitSeconds(t *testing.T) {
	err := NewRateLimitError("wait", 17)
	if err.WaitSeconds != 17 {
		t.Errorf("WaitSeconds = %d, want 17", err.WaitSeconds)
	}
}

func TestAsError_Wrapped(t *testing.T) {
	inner := NewAuthenticationError("bad key")
	wrapped := fmt.Errorf("send request: %w", inner)

	derr, ok := AsError(wrapped)
	if !ok {
		t.Fatal("AsError should find the wrapped *Error")
	}
	if derr.Kind != KindAuthentication {
		t.Errorf("Kind = %v, want KindAuthentication", derr.Kind)
	}

	if _, ok := AsError(errors.New("plain")); ok {
		t.Error("AsError should not match a plain error")
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewRateLimitError("wait", 5))
	if !IsKind(err, KindRateLimit) {
		t.Error("IsKind should match KindRateLimit through wrapping")
	}
	if IsKind(err, KindValidation) {
		t.Error("IsKind should not match a different kind")
	}
}
