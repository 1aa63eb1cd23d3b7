package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailure_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Failure
		expected string
	}{
		{
			name:     "unavailable with cause",
			err:      Unavailable("generate", errors.New("connection refused")),
			expected: "generate: backend_unavailable: connection refused",
		},
		{
			name:     "rejected with status",
			err:      Rejected("execute", 404, "pipeline not found"),
			expected: "execute: backend_rejected (status 404): pipeline not found",
		},
		{
			name:     "malformed",
			err:      Malformed("generate", "missing script"),
			expected: "generate: malformed_response: missing script",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFailure_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("wrapped: %w", Unavailable("chat", cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, BackendUnavailable, KindOf(err))
}

func TestKindOf_NotAFailure(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(Unavailable("generate", errors.New("x"))), "could not be reached")
	assert.Contains(t, UserMessage(Rejected("generate", 401, "missing API key")), "missing API key")
	assert.Contains(t, UserMessage(Malformed("generate", "")), "incomplete response")
	assert.Contains(t, UserMessage(errors.New("boom")), "boom")
}
