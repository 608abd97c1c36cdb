package embedder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
)

type stubProvider struct {
	vec []float64
	err error
}

func (s stubProvider) Embed(context.Context, string) ([]float64, error) { return s.vec, s.err }
func (s stubProvider) EmbedBatch(context.Context, []string) ([][]float64, error) {
	return [][]float64{s.vec}, s.err
}
func (s stubProvider) Dimensions() int { return len(s.vec) }
func (s stubProvider) Close() error    { return nil }

func TestTryEmbed(t *testing.T) {
	ctx := context.Background()

	vec, ok := embedder.TryEmbed(ctx, stubProvider{vec: []float64{1, 2}}, "q", nil)
	assert.True(t, ok)
	assert.Equal(t, []float64{1, 2}, vec)

	_, ok = embedder.TryEmbed(ctx, nil, "q", nil)
	assert.False(t, ok)

	_, ok = embedder.TryEmbed(ctx, stubProvider{}, "q", nil)
	assert.False(t, ok)
}

func TestTryEmbed_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	_, ok := embedder.TryEmbed(context.Background(), stubProvider{err: errors.New("timeout")}, "q", zap.New(core))

	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("embedding failed, using text fallback").Len())
}
