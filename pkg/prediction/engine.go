// Package prediction estimates which memories a user will need next.
//
// Four independent passes (co-access, relationships, temporal patterns and
// context similarity) each add confidence to candidate memories. The sum is
// scaled by helpfulness and clamped to [0,1]; it is a heuristic score, not a
// probability.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Reason tags.
const (
	ReasonCoAccess          = "frequently_accessed_with"
	ReasonContextSimilarity = "context_similarity"
	relationshipSuffix      = "_relationship"
	temporalPrefix          = "temporal_pattern_"
)

const (
	coAccessBoost        = 0.3
	relationshipFactor   = 0.4
	temporalFactor       = 0.3
	contextFactor        = 0.4
	minPatternConfidence = 0.5

	// DefaultLimit is used when a request leaves the limit at zero.
	DefaultLimit = 10

	// DefaultContextThreshold is the similarity floor of the context pass.
	DefaultContextThreshold = 0.6

	// DefaultContextCandidates is the candidate count of the context pass.
	DefaultContextCandidates = 20
)

// ErrInvalidRequest is returned before any store work when a request is
// malformed.
var ErrInvalidRequest = errors.New("invalid request")

// RelationshipTag returns the reason tag of an edge type.
func RelationshipTag(t storage.RelationshipType) string {
	return string(t) + relationshipSuffix
}

// TemporalTag returns the reason tag of a pattern type.
func TemporalTag(t storage.PatternType) string {
	return temporalPrefix + string(t)
}

// CoAccessSink records co-access episodes without blocking. *usage.Tracker
// satisfies it.
type CoAccessSink interface {
	CoAccess(ids []int64) bool
}

// Request describes one prediction.
type Request struct {
	UserID          string
	RecentMemoryIDs []int64
	Context         string
	Limit           int
}

func (r *Request) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	for _, id := range r.RecentMemoryIDs {
		if id == 0 {
			return fmt.Errorf("%w: zero memory id", ErrInvalidRequest)
		}
	}
	return nil
}

// Prediction is one memory expected to be needed next.
type Prediction struct {
	MemoryID   int64           `json:"memory_id"`
	Memory     *storage.Memory `json:"memory,omitempty"`
	Confidence float64         `json:"confidence"`
	Reasons    []string        `json:"reasons"`
	RelatedTo  []int64         `json:"related_to"`
}

// Result is the outcome of Predict.
type Result struct {
	Predictions []Prediction `json:"predictions"`
}

// Engine runs the prediction passes.
type Engine struct {
	store             storage.Store
	embedder          embedder.Provider
	coAccess          CoAccessSink
	logger            *zap.Logger
	now               func() time.Time
	contextThreshold  float64
	contextCandidates int
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder sets the embedding provider used by the context pass.
func WithEmbedder(p embedder.Provider) Option {
	return func(e *Engine) { e.embedder = p }
}

// WithCoAccess sets where the recent set is recorded as a co-access episode.
func WithCoAccess(s CoAccessSink) Option {
	return func(e *Engine) { e.coAccess = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNow sets the clock matched against temporal patterns.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithContextSearch overrides the similarity floor and candidate count of
// the context pass.
func WithContextSearch(threshold float64, candidates int) Option {
	return func(e *Engine) {
		if threshold > 0 && threshold <= 1 {
			e.contextThreshold = threshold
		}
		if candidates > 0 {
			e.contextCandidates = candidates
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		logger:            zap.NewNop(),
		now:               time.Now,
		contextThreshold:  DefaultContextThreshold,
		contextCandidates: DefaultContextCandidates,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// signal is one pass's contribution to a candidate.
type signal struct {
	id        int64
	boost     float64
	reason    string
	relatedTo int64
}

type accumulator struct {
	confidence float64
	reasons    []string
	seen       map[string]struct{}
	relatedTo  map[int64]struct{}
}

// Predict runs every pass and returns the top candidates.
func (e *Engine) Predict(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	recent := make(map[int64]struct{}, len(req.RecentMemoryIDs))
	for _, id := range req.RecentMemoryIDs {
		recent[id] = struct{}{}
	}

	passes := []func(context.Context, Request, map[int64]struct{}) ([]signal, error){
		e.coAccessPass,
		e.relationshipPass,
		e.temporalPass,
		e.contextPass,
	}
	results := make([][]signal, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	for i, pass := range passes {
		i, pass := i, pass
		g.Go(func() error {
			sigs, err := pass(gctx, req, recent)
			results[i] = sigs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	acc := make(map[int64]*accumulator)
	for _, sigs := range results {
		for _, s := range sigs {
			if _, isRecent := recent[s.id]; isRecent {
				continue
			}
			a, ok := acc[s.id]
			if !ok {
				a = &accumulator{seen: make(map[string]struct{}), relatedTo: make(map[int64]struct{})}
				acc[s.id] = a
			}
			a.confidence += s.boost
			if _, dup := a.seen[s.reason]; !dup {
				a.seen[s.reason] = struct{}{}
				a.reasons = append(a.reasons, s.reason)
			}
			if s.relatedTo != 0 {
				a.relatedTo[s.relatedTo] = struct{}{}
			}
		}
	}

	predictions, err := e.finalize(ctx, req.UserID, acc)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(predictions) > limit {
		predictions = predictions[:limit]
	}

	if e.coAccess != nil && len(req.RecentMemoryIDs) > 1 {
		e.coAccess.CoAccess(req.RecentMemoryIDs)
	}
	return &Result{Predictions: predictions}, nil
}

// finalize loads the candidates, scales confidence by helpfulness and sorts.
// Candidates that no longer exist or belong to another user are dropped.
func (e *Engine) finalize(ctx context.Context, userID string, acc map[int64]*accumulator) ([]Prediction, error) {
	if len(acc) == 0 {
		return []Prediction{}, nil
	}
	ids := make([]int64, 0, len(acc))
	for id := range acc {
		ids = append(ids, id)
	}
	memories, err := e.store.GetMemories(ctx, ids)
	if err != nil {
		return nil, err
	}

	predictions := make([]Prediction, 0, len(memories))
	for _, m := range memories {
		if m.UserID != userID {
			continue
		}
		a := acc[m.ID]
		help := storage.Clamp01(m.HelpfulnessScore)
		related := make([]int64, 0, len(a.relatedTo))
		for id := range a.relatedTo {
			related = append(related, id)
		}
		predictions = append(predictions, Prediction{
			MemoryID:   m.ID,
			Memory:     m,
			Confidence: math.Min(a.confidence*(0.5+help*0.5), 1.0),
			Reasons:    a.reasons,
			RelatedTo:  storage.SortedIDs(related),
		})
	}
	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Confidence != predictions[j].Confidence {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		return predictions[i].MemoryID < predictions[j].MemoryID
	})
	return predictions, nil
}
