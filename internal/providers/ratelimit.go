package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an Embedder with a client-side rate limit.
// Embedding APIs meter by request; concurrent pipeline runs share one
// limiter so a burst of uploads does not trip provider quotas.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner, allowing rps requests per second with
// the given burst
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for limiter capacity, then delegates
func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return e.inner.Embed(ctx, text, mode)
}
