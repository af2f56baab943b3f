package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(ErrInvalidInput))
	assert.True(t, IsTerminal(ErrNotFound))
	assert.True(t, IsTerminal(ErrPermissionDenied))
	assert.True(t, IsTerminal(ErrRejected))
	assert.True(t, IsTerminal(fmt.Errorf("probe: %w", ErrInvalidInput)))
	assert.True(t, IsTerminal(MarkTerminal(errors.New("pixel format unsupported"))))

	assert.False(t, IsTerminal(nil))
	assert.False(t, IsTerminal(ErrUnavailable))
	assert.False(t, IsTerminal(ErrTimeout))
	assert.False(t, IsTerminal(errors.New("connection reset")))
	assert.False(t, IsTerminal(context.DeadlineExceeded))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(ErrCancelled))
	assert.True(t, IsCancellation(fmt.Errorf("flow: %w", ErrCancelled)))

	assert.False(t, IsCancellation(context.DeadlineExceeded))
	assert.False(t, IsCancellation(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(ErrUnavailable))
	assert.True(t, IsRetryable(ErrTimeout), "timeouts are worth another attempt")
	assert.True(t, IsRetryable(context.DeadlineExceeded))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(MarkTerminal(ErrUnavailable)))
}

func TestMarkTerminalPreservesMessageAndChain(t *testing.T) {
	base := fmt.Errorf("call provider: %w", ErrUnavailable)
	marked := MarkTerminal(base)

	assert.Equal(t, base.Error(), marked.Error())
	assert.ErrorIs(t, marked, ErrUnavailable, "wrapping keeps the chain intact")
	assert.True(t, IsTerminal(marked))

	assert.Nil(t, MarkTerminal(nil))
}

func TestPipelineError(t *testing.T) {
	err := NewPipelineError("steps.probe", "step", ErrNotFound)
	err.ID = "m1"

	assert.Contains(t, err.Error(), "steps.probe")
	assert.Contains(t, err.Error(), "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}
