package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// SearchRequest describes one ranked search.
type SearchRequest struct {
	UserID string
	Query  string
	Limit  int

	// Threshold is the minimum base similarity on the semantic path.
	Threshold float64

	// WeightByUsage ranks by the learned weighted score instead of raw
	// similarity.
	WeightByUsage bool

	// DecayOldMemories boosts recently used and penalizes long idle memories.
	DecayOldMemories bool

	// MinHelpfulness drops candidates whose helpfulness is below it.
	MinHelpfulness float64

	// LearningMode records a usage increment for every returned memory.
	LearningMode bool
}

func (r *SearchRequest) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	if r.MinHelpfulness < 0 || r.MinHelpfulness > 1 {
		return fmt.Errorf("%w: min helpfulness %v outside [0,1]", ErrInvalidRequest, r.MinHelpfulness)
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidRequest, r.Threshold)
	}
	return nil
}

func (r *SearchRequest) reranks() bool {
	return r.WeightByUsage || r.DecayOldMemories || r.MinHelpfulness > 0
}

// SearchResult is the ranked outcome of a search.
type SearchResult struct {
	Memories     []ScoredMemory `json:"memories"`
	SearchMethod SearchMethod   `json:"search_method"`
	Weighted     bool           `json:"weighted"`
}

// Search retrieves candidates for the query and orders them.
//
// With an embedding the candidates come from nearest-neighbour search and
// carry a base similarity; otherwise they come from text matching. Ties keep
// retrieval order.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	fetch := limit
	if req.reranks() {
		fetch = limit * e.overfetch
	}

	var (
		weights *storage.LearningWeights
		scored  []ScoredMemory
		method  SearchMethod
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.WeightByUsage {
		g.Go(func() error {
			w, err := e.weights.GetLearningWeights(gctx, req.UserID)
			if err != nil {
				return fmt.Errorf("search: load weights: %w", err)
			}
			weights = w
			return nil
		})
	}
	g.Go(func() error {
		var err error
		scored, method, err = e.retrieve(gctx, req.UserID, req.Query, req.Threshold, fetch)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range scored {
		s := &scored[i]
		a := e.analyzer.Analyze(s.Memory)
		s.UsageScore = UsageScore(a.UsageCount)
		s.RecencyScore = a.RecencyScore
		s.DaysSinceAccess = a.DaysSinceAccess
		switch {
		case !req.WeightByUsage:
			s.WeightedScore = s.BaseSimilarity
		case method == MethodSemantic:
			s.WeightedScore = WeightedScore(s.BaseSimilarity, a, weights)
		default:
			s.WeightedScore = float64(1+a.UsageCount) * a.HelpfulnessScore
		}
		if req.DecayOldMemories {
			applyDecay(s)
		}
		if req.MinHelpfulness > 0 && s.Memory.HelpfulnessScore < req.MinHelpfulness {
			s.WeightedScore = 0
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].WeightedScore > scored[j].WeightedScore
	})

	out := make([]ScoredMemory, 0, limit)
	for _, s := range scored {
		if req.MinHelpfulness > 0 && s.Memory.HelpfulnessScore < req.MinHelpfulness {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}

	if req.LearningMode {
		e.recordUsage(out, ContextSearchResult)
	}
	return &SearchResult{Memories: out, SearchMethod: method, Weighted: req.WeightByUsage}, nil
}

// retrieve fetches up to n candidates, semantically when an embedding can be
// obtained.
func (e *Engine) retrieve(ctx context.Context, userID, query string, threshold float64, n int) ([]ScoredMemory, SearchMethod, error) {
	if vec, ok := embedder.TryEmbed(ctx, e.embedder, query, e.logger); ok {
		candidates, err := e.store.MatchCandidates(ctx, vec, &storage.MatchOptions{
			UserID:    userID,
			Threshold: threshold,
			Limit:     n,
		})
		if err != nil {
			return nil, "", fmt.Errorf("match candidates: %w", err)
		}
		scored := make([]ScoredMemory, len(candidates))
		for i, c := range candidates {
			scored[i] = ScoredMemory{Memory: c.Memory, BaseSimilarity: c.Similarity}
		}
		return scored, MethodSemantic, nil
	}

	e.logger.Debug("text search", zap.String("user_id", userID))
	memories, err := e.store.TextSearch(ctx, query, &storage.TextSearchOptions{UserID: userID, Limit: n})
	if err != nil {
		return nil, "", fmt.Errorf("text search: %w", err)
	}
	scored := make([]ScoredMemory, len(memories))
	for i, m := range memories {
		scored[i] = ScoredMemory{Memory: m}
	}
	return scored, MethodText, nil
}
