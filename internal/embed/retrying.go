package embed

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"

	"github.com/AnshuML/Aipl/internal/errors"
)

// RetryingEmbedder retries transient provider failures under a RetryPolicy.
// Exhausted retries and unclassified failures surface as
// PermanentProviderError.
type RetryingEmbedder struct {
	inner  Embedder
	policy errors.RetryPolicy
}

var _ Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with policy.
func NewRetryingEmbedder(inner Embedder, policy errors.RetryPolicy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	vecs, err := errors.RetryWithResult(ctx, r.policy, func(ctx context.Context) ([][]float32, error) {
		attempt++
		vecs, err := r.inner.EmbedBatch(ctx, texts)
		if err != nil && errors.IsTransient(err) {
			slog.Warn("embedding_attempt_failed",
				slog.String("model", r.inner.ModelName()),
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
	if err == nil {
		return vecs, nil
	}

	// The caller gave up; that is not a provider failure.
	if ctx.Err() != nil {
		return nil, err
	}

	var exhausted *errors.RetryExhaustedError
	if stderrors.As(err, &exhausted) {
		return nil, errors.PermanentProviderError("embedding retries exhausted", err).
			WithDetail("attempts", strconv.Itoa(exhausted.Attempts))
	}
	if errors.IsPermanent(err) {
		return nil, err
	}
	return nil, errors.PermanentProviderError("embedding failed", err)
}

func (r *RetryingEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *RetryingEmbedder) ModelName() string { return r.inner.ModelName() }

func (r *RetryingEmbedder) Close() error { return r.inner.Close() }
