package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeValidation,
				Message: "ttl must not be negative",
				Code:    "TTL001",
			},
			want: "validation: ttl must not be negative: code=TTL001",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeConnection,
				Message: "redis connection failed",
				Cause:   errors.New("network timeout"),
			},
			want: "connection: redis connection failed: cause=network timeout",
		},
		{
			name: "error with sorted context",
			appError: &AppError{
				Type:    ErrTypeNotCacheable,
				Message: "no cacheable value <nil>",
				Context: map[string]interface{}{
					"tier": 1,
					"key":  "user:1",
				},
			},
			want: "not_cacheable: no cacheable value <nil>: context={key=user:1, tier=1}",
		},
		{
			name: "complete error",
			appError: &AppError{
				Type:    ErrTypeInternal,
				Message: "internal system error",
				Code:    "SYS001",
				Cause:   errors.New("panic recovered"),
				Context: map[string]interface{}{
					"component": "memory",
				},
			},
			want: "internal: internal system error: code=SYS001: cause=panic recovered: context={component=memory}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := TierError(2, "get", cause)

	if appError.Unwrap() != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}

	if !errors.Is(appError, cause) {
		t.Error("errors.Is should find the cause")
	}

	if ConfigError("no cause").Unwrap() != nil {
		t.Error("AppError.Unwrap() without cause should be nil")
	}
}

func TestAppError_Is(t *testing.T) {
	sentinel := &AppError{Type: ErrTypeNotCacheable}

	err := NotCacheableError("k", nil)
	if !errors.Is(err, sentinel) {
		t.Error("errors of the same type should match")
	}

	if errors.Is(ComputeError("k", errors.New("boom")), sentinel) {
		t.Error("errors of a different type should not match")
	}

	wrapped := fmt.Errorf("writing batch: %w", err)
	if !errors.Is(wrapped, sentinel) {
		t.Error("wrapped errors should match")
	}
}

func TestAppError_WithContext(t *testing.T) {
	appError := &AppError{
		Type:    ErrTypeValidation,
		Message: "validation failed",
	}

	result := appError.WithContext("field", "ttl")
	if result != appError {
		t.Error("WithContext should return the same instance")
	}

	if appError.Context["field"] != "ttl" {
		t.Errorf("Context[field] = %v, want ttl", appError.Context["field"])
	}

	appError.WithContext("value", "-1s")
	if len(appError.Context) != 2 {
		t.Errorf("Context length = %d, want 2", len(appError.Context))
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantMsg  string
		hasCause bool
	}{
		{"not cacheable", NotCacheableError("k", nil), ErrTypeNotCacheable, "no cacheable value <nil>", false},
		{"tier", TierError(1, "set", cause), ErrTypeTier, "tier 1 failed during set", true},
		{"compute", ComputeError("k", cause), ErrTypeCompute, `failed to compute value for "k"`, true},
		{"serialization", SerializationError("failed to encode", cause), ErrTypeSerialization, "failed to encode", true},
		{"connection", ConnectionError("failed to connect", cause), ErrTypeConnection, "failed to connect", true},
		{"validation", ValidationError("field is required"), ErrTypeValidation, "field is required", false},
		{"config", ConfigError("bad config"), ErrTypeConfig, "bad config", false},
		{"not found", NotFoundError("key"), ErrTypeNotFound, "key not found", false},
		{"internal", InternalError("boom", cause), ErrTypeInternal, "boom", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
			if tt.hasCause && tt.err.Cause != cause {
				t.Errorf("Cause = %v, want %v", tt.err.Cause, cause)
			}
			if !tt.hasCause && tt.err.Cause != nil {
				t.Errorf("Cause = %v, want nil", tt.err.Cause)
			}
		})
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"nil error", nil, ErrTypeConfig, false},
		{"standard error", errors.New("standard"), ErrTypeInternal, false},
		{"matching type", ConfigError("c"), ErrTypeConfig, true},
		{"different type", ConfigError("c"), ErrTypeValidation, false},
		{"wrapped app error", fmt.Errorf("ctx: %w", NotCacheableError("k", nil)), ErrTypeNotCacheable, true},
		{"nested app error", TierError(0, "set", NotCacheableError("k", nil)), ErrTypeNotCacheable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil error", nil, ""},
		{"standard error", errors.New("standard"), ErrTypeInternal},
		{"app error", ComputeError("k", nil), ErrTypeCompute},
		{"wrapped app error", fmt.Errorf("ctx: %w", TierError(0, "get", nil)), ErrTypeTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetType(tt.err); got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}
