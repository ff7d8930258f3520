package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"validation", Validation("submit", "no final version"), ErrValidation, KindValidation},
		{"invalid state", InvalidState("submit", "task is APPROVED"), ErrInvalidState, KindInvalidState},
		{"conflict", Conflict("open", "pending approval exists"), ErrConflict, KindConflict},
		{"not found", NotFound("resolve", "approval 7"), ErrNotFound, KindNotFound},
		{"configuration", Configuration("gate", "duplicate order 2"), ErrConfiguration, KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := Validation("reject", "comment is required")
	assert.Equal(t, "reject: comment is required", err.Error())

	cause := errors.New("disk full")
	wrapped := Wrap(KindConflict, "mark final", cause)
	assert.Equal(t, "mark final: conflict: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrConflict)
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindNotFound, "op", nil))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrNotFound)))
}
