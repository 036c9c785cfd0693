package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdapterError_RetryableOnlyForTransient(t *testing.T) {
	tr := Transient("test", "boom", 0, errors.New("x"))
	assert.True(t, tr.Retryable())

	f := Fatal("test", "boom", errors.New("x"))
	assert.False(t, f.Retryable())
}

func TestAdapterError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Fatal("test", "wrapped", cause)
	assert.ErrorIs(t, err, cause)
}

func TestGuard_PassesThroughSuccessfulCalls(t *testing.T) {
	cb := NewBreaker("test-breaker", nil)
	result, err := Guard(context.Background(), cb, "test", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker("test-breaker-2", nil)
	failing := errors.New("upstream down")

	for i := 0; i < 3; i++ {
		_, err := Guard(context.Background(), cb, "test", func(ctx context.Context) (string, error) {
			return "", failing
		})
		assert.Error(t, err)
	}

	_, err := Guard(context.Background(), cb, "test", func(ctx context.Context) (string, error) {
		return "unreachable", nil
	})
	var adapterErr *AdapterError
	assert.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, ErrorKindTransient, adapterErr.Kind, "open breaker surfaces as a transient adapter error")
}
