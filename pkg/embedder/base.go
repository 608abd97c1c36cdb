// Package embedder defines the embedding service used for similarity search.
//
// An embedding failure is never fatal to a read: callers fall back to text
// matching.
package embedder

import (
	"context"

	"go.uber.org/zap"
)

// Provider turns text into vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch embeds several texts; the result order matches texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions is the length of the vectors produced.
	Dimensions() int

	Close() error
}

// TryEmbed embeds text and reports whether a usable vector was produced.
//
// A nil provider, an error or an empty vector all yield (nil, false); the
// failure is logged at warn level and never returned.
func TryEmbed(ctx context.Context, p Provider, text string, logger *zap.Logger) ([]float64, bool) {
	if p == nil {
		return nil, false
	}
	vec, err := p.Embed(ctx, text)
	if err != nil {
		if logger != nil {
			logger.Warn("embedding failed, using text fallback", zap.Error(err))
		}
		return nil, false
	}
	if len(vec) == 0 {
		if logger != nil {
			logger.Warn("empty embedding, using text fallback")
		}
		return nil, false
	}
	return vec, true
}
