package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
	}{
		{"nil", nil, "", false},
		{"auth 401", errors.New("status 401 unauthorized"), ErrorTypeAuth, false},
		{"invalid key", errors.New("invalid api key provided"), ErrorTypeAuth, false},
		{"model missing", errors.New("model gpt-9 does not exist"), ErrorTypeModel, false},
		{"endpoint 404", errors.New("status 404"), ErrorTypeEndpoint, false},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"timeout", errors.New("context deadline exceeded"), ErrorTypeTimeout, true},
		{"rate limit", errors.New("429 too many requests"), ErrorTypeRateLimit, true},
		{"overloaded", errors.New("anthropic: overloaded_error"), ErrorTypeRateLimit, true},
		{"server error", errors.New("status 503"), ErrorTypeEndpoint, true},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantRetryable, got.Retryable)
		})
	}
}

func TestClassifyError_PreservesStructuredError(t *testing.T) {
	orig := NewError(ErrorTypeEmptyResponse, "empty", false, nil)
	wrapped := fmt.Errorf("call failed: %w", orig)

	got := ClassifyError(wrapped)
	assert.Same(t, orig, got)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := NewError(ErrorTypeEndpoint, "wrapped", true, cause)

	assert.ErrorIs(t, e, cause)
	assert.True(t, IsRetryable(e))
	assert.Equal(t, ErrorTypeEndpoint, GetErrorType(e))
}
