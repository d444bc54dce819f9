package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rcliao/persona-memory/internal/chunker"
	"github.com/rcliao/persona-memory/internal/model"
)

// RetryPolicy bounds the attempts made for a single embedding.
type RetryPolicy struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout applies to each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// EmbedWithRetry calls e.Embed until it succeeds or the policy is
// exhausted. Exhaustion is reported as model.ErrEmbeddingUnavailable.
func EmbedWithRetry(ctx context.Context, e Embedder, text string, p RetryPolicy) (Vector, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}

	op := func() (Vector, error) {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		vec, err := e.Embed(actx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("empty vector"))
		}
		return vec, nil
	}

	vec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// EmbedChunked embeds text that may exceed what a provider handles well.
// Short text is embedded directly; longer text is split with the chunker
// and the chunk vectors are mean-pooled into one unit vector.
func EmbedChunked(ctx context.Context, e Embedder, text string, p RetryPolicy, opts chunker.Options) (Vector, error) {
	chunks := chunker.Chunk(text, opts)
	if len(chunks) <= 1 {
		return EmbedWithRetry(ctx, e, text, p)
	}

	var pooled Vector
	for _, c := range chunks {
		vec, err := EmbedWithRetry(ctx, e, c.Text, p)
		if err != nil {
			return nil, err
		}
		if pooled == nil {
			pooled = make(Vector, len(vec))
		}
		if len(vec) != len(pooled) {
			return nil, fmt.Errorf("chunk vectors disagree on size: %d vs %d: %w",
				len(vec), len(pooled), model.ErrDimensionMismatch)
		}
		for i, x := range vec {
			pooled[i] += x
		}
	}
	n := float32(len(chunks))
	for i := range pooled {
		pooled[i] /= n
	}
	return normalize(pooled), nil
}
