package intelligence

import (
	"context"
	"fmt"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// outdatedHelpfulness is the helpfulness below which a stale memory is
// reported as outdated.
const outdatedHelpfulness = 0.3

// Maintenance builds cleanup suggestions for userID: duplicate groups,
// outdated memories, archive candidates and edges whose endpoint is gone.
// Nothing is modified.
func (m *Miner) Maintenance(ctx context.Context, userID string) (*MaintenanceReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("maintenance: %w: empty user id", ErrInvalidArgument)
	}
	memories, err := m.store.ListMemories(ctx, &storage.ListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("maintenance: %w", err)
	}

	report := &MaintenanceReport{
		Duplicates:        DetectDuplicates(memories, m.cfg),
		Outdated:          []MemoryRef{},
		ArchiveCandidates: []MemoryRef{},
	}
	known := make(map[int64]struct{}, len(memories))
	for _, mem := range memories {
		known[mem.ID] = struct{}{}
		a := m.analyzer.Analyze(mem)
		ref := MemoryRef{
			MemoryID:         mem.ID,
			Content:          mem.Content,
			DaysSinceAccess:  a.DaysSinceAccess,
			HelpfulnessScore: a.HelpfulnessScore,
			UsageCount:       a.UsageCount,
		}
		if a.DaysSinceAccess >= m.cfg.StaleAfterDays && a.HelpfulnessScore < outdatedHelpfulness {
			report.Outdated = append(report.Outdated, ref)
		}
		if m.analyzer.ShouldArchive(mem) {
			report.ArchiveCandidates = append(report.ArchiveCandidates, ref)
		}
	}

	broken, err := m.brokenEdges(ctx, userID, known)
	if err != nil {
		return nil, fmt.Errorf("maintenance: %w", err)
	}
	report.BrokenEdges = broken
	report.BrokenRelationships = len(broken)
	return report, nil
}

func (m *Miner) brokenEdges(ctx context.Context, userID string, known map[int64]struct{}) ([]*storage.Relationship, error) {
	edges, err := m.store.ListRelationships(ctx, &storage.RelationshipListOptions{UserID: userID})
	if err != nil {
		return nil, err
	}

	// Endpoints outside the user's listing may still exist under another owner.
	var unknown []int64
	for _, e := range edges {
		for _, id := range []int64{e.MemoryID, e.RelatedMemoryID} {
			if _, ok := known[id]; !ok {
				unknown = append(unknown, id)
			}
		}
	}
	if len(unknown) > 0 {
		found, err := m.store.GetMemories(ctx, unknown)
		if err != nil {
			return nil, err
		}
		for _, mem := range found {
			known[mem.ID] = struct{}{}
		}
	}

	var broken []*storage.Relationship
	for _, e := range edges {
		_, okA := known[e.MemoryID]
		_, okB := known[e.RelatedMemoryID]
		if !okA || !okB {
			broken = append(broken, e)
		}
	}
	return broken, nil
}
