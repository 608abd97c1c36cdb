package prediction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

func (e *Engine) coAccessPass(ctx context.Context, req Request, recent map[int64]struct{}) ([]signal, error) {
	if len(req.RecentMemoryIDs) == 0 {
		return nil, nil
	}
	memories, err := e.store.GetMemories(ctx, req.RecentMemoryIDs)
	if err != nil {
		return nil, fmt.Errorf("co-access: %w", err)
	}
	var out []signal
	for _, m := range memories {
		for _, id := range m.AccessPattern.CoAccessedWith {
			if _, ok := recent[id]; ok {
				continue
			}
			out = append(out, signal{id: id, boost: coAccessBoost, reason: ReasonCoAccess, relatedTo: m.ID})
		}
	}
	return out, nil
}

func (e *Engine) relationshipPass(ctx context.Context, req Request, recent map[int64]struct{}) ([]signal, error) {
	if len(req.RecentMemoryIDs) == 0 {
		return nil, nil
	}
	edges, err := e.store.ListRelationships(ctx, &storage.RelationshipListOptions{
		UserID:    req.UserID,
		MemoryIDs: req.RecentMemoryIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("relationships: %w", err)
	}
	out := make([]signal, 0, len(edges))
	for _, edge := range edges {
		out = append(out, signal{
			id:        edge.RelatedMemoryID,
			boost:     edge.Strength * relationshipFactor,
			reason:    RelationshipTag(edge.Type),
			relatedTo: edge.MemoryID,
		})
	}
	return out, nil
}

func (e *Engine) temporalPass(ctx context.Context, req Request, recent map[int64]struct{}) ([]signal, error) {
	patterns, err := e.store.ListTemporalPatterns(ctx, &storage.PatternListOptions{
		UserID:        req.UserID,
		MinConfidence: minPatternConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal patterns: %w", err)
	}
	now := e.now()
	var out []signal
	for _, p := range patterns {
		if !matches(p, now.Hour(), int(now.Weekday()), recent) {
			continue
		}
		for _, id := range p.Data.MemoryIDs {
			out = append(out, signal{id: id, boost: p.Confidence * temporalFactor, reason: TemporalTag(p.Type)})
		}
	}
	return out, nil
}

func matches(p *storage.TemporalPattern, hour, weekday int, recent map[int64]struct{}) bool {
	switch p.Type {
	case storage.PatternHourly:
		return p.Data.Hour != nil && *p.Data.Hour == hour
	case storage.PatternDaily:
		return p.Data.Weekday != nil && *p.Data.Weekday == weekday
	case storage.PatternSequence:
		if len(p.Data.Sequence) == 0 {
			return false
		}
		_, ok := recent[p.Data.Sequence[0]]
		return ok
	}
	return false
}

func (e *Engine) contextPass(ctx context.Context, req Request, _ map[int64]struct{}) ([]signal, error) {
	if strings.TrimSpace(req.Context) == "" {
		return nil, nil
	}
	vec, ok := embedder.TryEmbed(ctx, e.embedder, req.Context, e.logger)
	if !ok {
		e.logger.Debug("context pass skipped", zap.String("user_id", req.UserID))
		return nil, nil
	}
	candidates, err := e.store.MatchCandidates(ctx, vec, &storage.MatchOptions{
		UserID:    req.UserID,
		Threshold: e.contextThreshold,
		Limit:     e.contextCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	out := make([]signal, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, signal{id: c.Memory.ID, boost: c.Similarity * contextFactor, reason: ReasonContextSimilarity})
	}
	return out, nil
}
