package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type retryFlag bool

func (r retryFlag) Error() string   { return "provider failure" }
func (r retryFlag) Retryable() bool { return bool(r) }

func TestMarkAll(t *testing.T) {
	err := NewError("trial still running").
		WithHint("Wait until the trial ends").
		MarkAll(ErrTrialNotEnded, ErrInvalidOperation)

	assert.True(t, Is(err, ErrTrialNotEnded))
	assert.True(t, IsInvalidOperation(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "Wait until the trial ends", GetHint(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", NewError("lock held").MarkAll(ErrLockHeld, ErrRetryable), true},
		{"retry flag true", fmt.Errorf("wrapped: %w", retryFlag(true)), true},
		{"retry flag false", retryFlag(false), false},
		{"validation", NewError("bad").Mark(ErrValidation), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
