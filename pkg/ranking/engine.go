// Package ranking scores and orders memories for a query using each user's
// learned weights, and produces context-aware suggestions with the same
// formula.
package ranking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Usage contexts recorded against returned memories.
const (
	ContextSearchResult      = "search_result"
	ContextContextSuggestion = "context_suggestion"
)

const (
	// DefaultLimit is used when a request leaves the limit at zero.
	DefaultLimit = 10

	// DefaultOverfetch multiplies the fetch size when results are re-ranked.
	DefaultOverfetch = 3

	similarityWeight = 0.4
)

// ErrInvalidRequest is returned before any store work when a request is
// malformed.
var ErrInvalidRequest = errors.New("invalid request")

// SearchMethod reports which retrieval path produced the candidates.
type SearchMethod string

const (
	MethodSemantic SearchMethod = "semantic"
	MethodText     SearchMethod = "text"
)

// WeightsSource provides a user's learning weights. *cache.Weights and
// storage.Store both satisfy it.
type WeightsSource interface {
	GetLearningWeights(ctx context.Context, userID string) (*storage.LearningWeights, error)
}

// UsageSink records reads without blocking. *usage.Tracker satisfies it.
type UsageSink interface {
	Increment(ids []int64, usageContext string) bool
}

// Engine ranks memories for search and suggestion.
type Engine struct {
	store     storage.Store
	embedder  embedder.Provider
	weights   WeightsSource
	usage     UsageSink
	analyzer  *intelligence.Analyzer
	logger    *zap.Logger
	overfetch int
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder sets the embedding provider. Without one every query takes
// the text path.
func WithEmbedder(p embedder.Provider) Option {
	return func(e *Engine) { e.embedder = p }
}

// WithWeights sets where learning weights are read from. Defaults to the
// store.
func WithWeights(w WeightsSource) Option {
	return func(e *Engine) {
		if w != nil {
			e.weights = w
		}
	}
}

// WithUsage sets the sink for usage increments.
func WithUsage(u UsageSink) Option {
	return func(e *Engine) { e.usage = u }
}

// WithAnalyzer sets the analyzer computing recency.
func WithAnalyzer(a *intelligence.Analyzer) Option {
	return func(e *Engine) {
		if a != nil {
			e.analyzer = a
		}
	}
}

// WithNow sets the clock used for recency.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.analyzer = intelligence.NewAnalyzer(intelligence.WithAnalyzerClock(now))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOverfetch sets the over-fetch factor applied when re-ranking.
func WithOverfetch(factor int) Option {
	return func(e *Engine) {
		if factor >= 1 {
			e.overfetch = factor
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		weights:   store,
		analyzer:  intelligence.NewAnalyzer(),
		logger:    zap.NewNop(),
		overfetch: DefaultOverfetch,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) recordUsage(memories []ScoredMemory, usageContext string) {
	if e.usage == nil || len(memories) == 0 {
		return
	}
	ids := make([]int64, len(memories))
	for i, m := range memories {
		ids[i] = m.Memory.ID
	}
	if !e.usage.Increment(ids, usageContext) {
		e.logger.Warn("usage increment not queued",
			zap.String("context", usageContext),
			zap.Int("memories", len(ids)))
	}
}
