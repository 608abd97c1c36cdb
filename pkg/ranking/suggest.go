package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Match buckets for the base similarity of a suggestion.
const (
	MatchHigh   = "high"
	MatchMedium = "medium"
	MatchLow    = "low"
)

// minEdgeStrength is the strength an edge needs to be attached to a
// suggestion.
const minEdgeStrength = 0.6

// SuggestRequest describes a proactive suggestion for a free-text context.
type SuggestRequest struct {
	UserID           string
	Context          string
	MinConfidence    float64
	IncludeReasoning bool
	Limit            int
}

func (r *SuggestRequest) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Context) == "" {
		return fmt.Errorf("%w: context is required", ErrInvalidRequest)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence %v outside [0,1]", ErrInvalidRequest, r.MinConfidence)
	}
	return nil
}

// Reasoning explains why a memory was suggested.
type Reasoning struct {
	SemanticMatch    string                  `json:"semantic_match"`
	FrequentlyUsed   bool                    `json:"frequently_used"`
	RecentlyAccessed bool                    `json:"recently_accessed"`
	HighHelpfulness  bool                    `json:"high_helpfulness"`
	Weights          storage.LearningWeights `json:"weights"`
}

// Suggestion is one suggested memory.
type Suggestion struct {
	ScoredMemory
	Confidence    float64                 `json:"confidence"`
	Reasoning     *Reasoning              `json:"reasoning,omitempty"`
	Relationships []*storage.Relationship `json:"relationships,omitempty"`
}

// SuggestResult is the outcome of Suggest.
type SuggestResult struct {
	Suggestions  []Suggestion `json:"suggestions"`
	SearchMethod SearchMethod `json:"search_method"`
}

func matchBucket(similarity float64) string {
	switch {
	case similarity > 0.7:
		return MatchHigh
	case similarity > 0.5:
		return MatchMedium
	default:
		return MatchLow
	}
}

// Suggest ranks memories relevant to a context with the user's weights,
// keeps those reaching MinConfidence and attaches strong edges touching
// them. Every returned memory gets a usage increment.
func (e *Engine) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	var (
		weights *storage.LearningWeights
		scored  []ScoredMemory
		method  SearchMethod
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := e.weights.GetLearningWeights(gctx, req.UserID)
		if err != nil {
			return fmt.Errorf("suggest: load weights: %w", err)
		}
		weights = w
		return nil
	})
	g.Go(func() error {
		var err error
		scored, method, err = e.retrieve(gctx, req.UserID, req.Context, 0, limit*e.overfetch)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(scored))
	for _, s := range scored {
		a := e.analyzer.Analyze(s.Memory)
		s.UsageScore = UsageScore(a.UsageCount)
		s.RecencyScore = a.RecencyScore
		s.DaysSinceAccess = a.DaysSinceAccess
		s.WeightedScore = WeightedScore(s.BaseSimilarity, a, weights)
		if s.WeightedScore < req.MinConfidence {
			continue
		}
		sg := Suggestion{ScoredMemory: s, Confidence: s.WeightedScore}
		if req.IncludeReasoning {
			sg.Reasoning = &Reasoning{
				SemanticMatch:    matchBucket(s.BaseSimilarity),
				FrequentlyUsed:   a.UsageCount > 10,
				RecentlyAccessed: a.RecencyScore > 0.8,
				HighHelpfulness:  a.HelpfulnessScore > 0.7,
				Weights:          *weights,
			}
		}
		suggestions = append(suggestions, sg)
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}

	if err := e.attachRelationships(ctx, req.UserID, suggestions); err != nil {
		return nil, err
	}

	scoredOut := make([]ScoredMemory, len(suggestions))
	for i := range suggestions {
		scoredOut[i] = suggestions[i].ScoredMemory
	}
	e.recordUsage(scoredOut, ContextContextSuggestion)
	return &SuggestResult{Suggestions: suggestions, SearchMethod: method}, nil
}

func (e *Engine) attachRelationships(ctx context.Context, userID string, suggestions []Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	ids := make([]int64, len(suggestions))
	index := make(map[int64]int, len(suggestions))
	for i, s := range suggestions {
		ids[i] = s.Memory.ID
		index[s.Memory.ID] = i
	}
	edges, err := e.store.ListRelationships(ctx, &storage.RelationshipListOptions{
		UserID:      userID,
		MemoryIDs:   ids,
		Touching:    true,
		MinStrength: minEdgeStrength,
	})
	if err != nil {
		return fmt.Errorf("suggest: list relationships: %w", err)
	}
	for _, edge := range edges {
		for _, id := range []int64{edge.MemoryID, edge.RelatedMemoryID} {
			if i, ok := index[id]; ok {
				suggestions[i].Relationships = append(suggestions[i].Relationships, edge)
			}
		}
	}
	return nil
}
