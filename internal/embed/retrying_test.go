package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func quickPolicy(attempts int) errors.RetryPolicy {
	return errors.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestRetryingEmbedder_RecoversFromTransientErrors(t *testing.T) {
	inner := newScriptedEmbedder(
		errors.TransientProviderError("429", nil),
		errors.TransientProviderError("503", nil),
	)
	r := NewRetryingEmbedder(inner, quickPolicy(3))

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingEmbedder_ExhaustionIsPermanent(t *testing.T) {
	inner := newScriptedEmbedder(
		errors.TransientProviderError("503", nil),
		errors.TransientProviderError("503", nil),
		errors.TransientProviderError("503", nil),
	)
	r := NewRetryingEmbedder(inner, quickPolicy(3))

	_, err := r.EmbedBatch(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingEmbedder_PermanentNotRetried(t *testing.T) {
	inner := newScriptedEmbedder(errors.PermanentProviderError("401", nil))
	r := NewRetryingEmbedder(inner, quickPolicy(5))

	_, err := r.EmbedBatch(context.Background(), []string{"a"})

	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingEmbedder_UnclassifiedBecomesPermanent(t *testing.T) {
	inner := newScriptedEmbedder(assert.AnError)
	r := NewRetryingEmbedder(inner, quickPolicy(3))

	_, err := r.EmbedBatch(context.Background(), []string{"a"})

	assert.True(t, errors.IsPermanent(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingEmbedder_CancelledContextPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetryingEmbedder(newScriptedEmbedder(), quickPolicy(3))
	_, err := r.EmbedBatch(ctx, []string{"a"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsPermanent(err))
}
