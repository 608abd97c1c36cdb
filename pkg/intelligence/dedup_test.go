package intelligence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

func TestDetectDuplicates(t *testing.T) {
	tests := []struct {
		name       string
		contents   []string
		wantGroups int
		wantAction intelligence.DuplicateSuggestion
	}{
		{
			name:       "extra word groups for review",
			contents:   []string{"Deploy to production using Docker", "Deploy to production with Docker containers"},
			wantGroups: 1,
			wantAction: intelligence.SuggestReview,
		},
		{
			name:       "identical text merges",
			contents:   []string{"User prefers dark mode in the editor", "user prefers dark mode in the editor!"},
			wantGroups: 1,
			wantAction: intelligence.SuggestMerge,
		},
		{
			name:       "unrelated texts",
			contents:   []string{"Deploy to production using Docker", "Quarterly pricing review with finance"},
			wantGroups: 0,
		},
		{
			name:       "negated superset is not a duplicate",
			contents:   []string{"Deploy the API to production", "Never deploy the API to production on Fridays"},
			wantGroups: 0,
		},
		{
			name:       "superset adding two words is not a duplicate",
			contents:   []string{"Rotate database credentials monthly", "Rotate database credentials monthly via vault automation"},
			wantGroups: 0,
		},
		{
			name:       "short subset is not a duplicate",
			contents:   []string{"Docker", "Deploy to production using Docker"},
			wantGroups: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memories := make([]*storage.Memory, len(tt.contents))
			for i, c := range tt.contents {
				memories[i] = &storage.Memory{ID: int64(i + 1), Content: c}
			}
			groups := intelligence.DetectDuplicates(memories, intelligence.DefaultMinerConfig())
			require.Len(t, groups, tt.wantGroups)
			if tt.wantGroups == 0 {
				return
			}
			assert.Equal(t, []int64{1, 2}, groups[0].MemoryIDs)
			assert.GreaterOrEqual(t, groups[0].Similarity, 0.85)
			assert.Equal(t, tt.wantAction, groups[0].Suggestion)
		})
	}
}

func TestDetectDuplicates_Window(t *testing.T) {
	memories := []*storage.Memory{
		{ID: 1, Content: "Deploy to production using Docker"},
		{ID: 2, Content: "weekly sync agenda"},
		{ID: 3, Content: "Deploy to production using Docker"},
	}
	cfg := intelligence.DefaultMinerConfig()
	cfg.DuplicateWindow = 2
	assert.Empty(t, intelligence.DetectDuplicates(memories, cfg))

	cfg.DuplicateWindow = 3
	groups := intelligence.DetectDuplicates(memories, cfg)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{1, 3}, groups[0].MemoryIDs)
}

func TestDetectDuplicates_Transitive(t *testing.T) {
	memories := []*storage.Memory{
		{ID: 1, Content: "rotate database credentials monthly"},
		{ID: 2, Content: "rotate database credentials monthly please"},
		{ID: 3, Content: "rotate the database credentials monthly"},
	}
	groups := intelligence.DetectDuplicates(memories, intelligence.DefaultMinerConfig())
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{1, 2, 3}, groups[0].MemoryIDs)
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	existing := insert(t, store, &storage.Memory{Content: "dark mode", Embedding: []float64{1, 0, 0}})

	found, err := intelligence.CheckDuplicate(ctx, store, []float64{1, 0, 0}, "user_001", 0.95)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, existing.ID, found.ID)

	found, err = intelligence.CheckDuplicate(ctx, store, []float64{0, 1, 0}, "user_001", 0.95)
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = intelligence.CheckDuplicate(ctx, store, nil, "user_001", 0.95)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	old := now.Add(-200 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	a := insert(t, store, &storage.Memory{Content: "Deploy to production using Docker", LastAccessedAt: &recent, UsageCount: 4})
	b := insert(t, store, &storage.Memory{Content: "Deploy to production with Docker containers", LastAccessedAt: &recent, UsageCount: 2})
	stale := insert(t, store, &storage.Memory{Content: "legacy ftp server password", CreatedAt: old, HelpfulnessScore: 0.2})
	_ = insert(t, store, &storage.Memory{Content: "old but useful", CreatedAt: old, HelpfulnessScore: 0.9})

	_, err := store.CreateRelationship(ctx, &storage.Relationship{
		UserID: "user_001", MemoryID: a.ID, RelatedMemoryID: 424242, Type: storage.RelatedTo, Strength: 0.7,
	})
	require.NoError(t, err)
	_, err = store.CreateRelationship(ctx, &storage.Relationship{
		UserID: "user_001", MemoryID: a.ID, RelatedMemoryID: b.ID, Type: storage.SimilarTo, Strength: 0.9,
	})
	require.NoError(t, err)

	report, err := newMiner(store).Maintenance(ctx, "user_001")
	require.NoError(t, err)

	require.Len(t, report.Duplicates, 1)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, report.Duplicates[0].MemoryIDs)

	require.Len(t, report.Outdated, 1)
	assert.Equal(t, stale.ID, report.Outdated[0].MemoryID)
	assert.GreaterOrEqual(t, report.Outdated[0].DaysSinceAccess, 90.0)

	assert.Len(t, report.ArchiveCandidates, 2)
	assert.Equal(t, 1, report.BrokenRelationships)
	require.Len(t, report.BrokenEdges, 1)
	assert.Equal(t, int64(424242), report.BrokenEdges[0].RelatedMemoryID)
}
