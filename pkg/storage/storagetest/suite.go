// Package storagetest holds a conformance suite run against every
// storage.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("GetMemoriesKeepsOrder", func(t *testing.T) { testGetMemories(t, newStore(t)) })
	t.Run("ListMemoriesByActivity", func(t *testing.T) { testListMemories(t, newStore(t)) })
	t.Run("DeleteMemory", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListOwners", func(t *testing.T) { testListOwners(t, newStore(t)) })
	t.Run("MatchCandidates", func(t *testing.T) { testMatchCandidates(t, newStore(t)) })
	t.Run("TextSearch", func(t *testing.T) { testTextSearch(t, newStore(t)) })
	t.Run("IncrementUsage", func(t *testing.T) { testIncrementUsage(t, newStore(t)) })
	t.Run("RecordCoAccess", func(t *testing.T) { testRecordCoAccess(t, newStore(t)) })
	t.Run("Helpfulness", func(t *testing.T) { testHelpfulness(t, newStore(t)) })
	t.Run("LearningWeights", func(t *testing.T) { testLearningWeights(t, newStore(t)) })
	t.Run("TemporalPatternUpsert", func(t *testing.T) { testPatternUpsert(t, newStore(t)) })
	t.Run("Relationships", func(t *testing.T) { testRelationships(t, newStore(t)) })
}

func insert(t *testing.T, s storage.Store, m *storage.Memory) *storage.Memory {
	t.Helper()
	if m.HelpfulnessScore == 0 {
		m.HelpfulnessScore = storage.DefaultHelpfulness
	}
	require.NoError(t, s.InsertMemory(context.Background(), m))
	require.NotZero(t, m.ID)
	return m
}

func testInsertAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := insert(t, s, &storage.Memory{
		UserID:    "alice",
		AgentID:   "agent",
		Content:   "Use connection pooling for Postgres",
		Tags:      []string{"db", "perf"},
		Embedding: []float64{0.1, 0.2, 0.3},
		Metadata:  map[string]interface{}{"source": "notes"},
	})

	got, err := s.GetMemory(ctx, m.ID, &storage.GetOptions{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Use connection pooling for Postgres", got.Content)
	assert.Equal(t, []string{"db", "perf"}, got.Tags)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3}, got.Embedding, 1e-9)
	assert.Equal(t, "notes", got.Metadata["source"])
	assert.Equal(t, int64(0), got.UsageCount)
	assert.InDelta(t, 0.5, got.HelpfulnessScore, 1e-9)
	assert.Nil(t, got.LastAccessedAt)
	assert.NotNil(t, got.AccessPattern.Contexts)

	_, err = s.GetMemory(ctx, m.ID, &storage.GetOptions{UserID: "bob"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetMemory(ctx, m.ID+1, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testGetMemories(t *testing.T, s storage.Store) {
	a := insert(t, s, &storage.Memory{UserID: "u", Content: "a"})
	b := insert(t, s, &storage.Memory{UserID: "u", Content: "b"})

	got, err := s.GetMemories(context.Background(), []int64{b.ID, 424242, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)
}

func testListMemories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour).UTC()
	older := insert(t, s, &storage.Memory{UserID: "u", Content: "older", CreatedAt: base})
	newer := insert(t, s, &storage.Memory{UserID: "u", Content: "newer", CreatedAt: base.Add(time.Hour)})
	insert(t, s, &storage.Memory{UserID: "other", Content: "foreign", CreatedAt: base})

	list, err := s.ListMemories(ctx, &storage.ListOptions{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	require.NoError(t, s.IncrementUsage(ctx, older.ID, "test"))
	list, err = s.ListMemories(ctx, &storage.ListOptions{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)

	page, err := s.ListMemories(ctx, &storage.ListOptions{UserID: "u", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, newer.ID, page[0].ID)
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := insert(t, s, &storage.Memory{UserID: "u", Content: "to delete"})

	err := s.DeleteMemory(ctx, m.ID, &storage.DeleteOptions{UserID: "intruder"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.DeleteMemory(ctx, m.ID, &storage.DeleteOptions{UserID: "u"}))
	_, err = s.GetMemory(ctx, m.ID, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.DeleteMemory(ctx, m.ID, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListOwners(t *testing.T, s storage.Store) {
	insert(t, s, &storage.Memory{UserID: "zed", Content: "z"})
	insert(t, s, &storage.Memory{UserID: "amy", Content: "a"})
	insert(t, s, &storage.Memory{UserID: "amy", Content: "b"})

	owners, err := s.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, owners)
}

func testMatchCandidates(t *testing.T, s storage.Store) {
	exact := insert(t, s, &storage.Memory{UserID: "u", Content: "exact", Embedding: []float64{1, 0, 0}})
	near := insert(t, s, &storage.Memory{UserID: "u", Content: "close", Embedding: []float64{0.9, 0.1, 0}})
	insert(t, s, &storage.Memory{UserID: "u", Content: "orthogonal", Embedding: []float64{0, 1, 0}})
	insert(t, s, &storage.Memory{UserID: "u", Content: "no embedding"})
	insert(t, s, &storage.Memory{UserID: "v", Content: "foreign", Embedding: []float64{1, 0, 0}})

	candidates, err := s.MatchCandidates(context.Background(), []float64{1, 0, 0}, &storage.MatchOptions{
		UserID:    "u",
		Threshold: 0.5,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, exact.ID, candidates[0].Memory.ID)
	assert.InDelta(t, 1.0, candidates[0].Similarity, 1e-6)
	assert.Equal(t, near.ID, candidates[1].Memory.ID)
	assert.Greater(t, candidates[0].Similarity, candidates[1].Similarity)
}

func testTextSearch(t *testing.T, s storage.Store) {
	hit := insert(t, s, &storage.Memory{UserID: "u", Content: "Deploy with Docker Compose"})
	insert(t, s, &storage.Memory{UserID: "u", Content: "Kubernetes rollout"})
	insert(t, s, &storage.Memory{UserID: "v", Content: "docker for someone else"})
	insert(t, s, &storage.Memory{UserID: "u", Content: "50% off"})

	got, err := s.TextSearch(context.Background(), "DOCKER", &storage.TextSearchOptions{UserID: "u", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hit.ID, got[0].ID)

	// Wildcards in the query match literally.
	got, err = s.TextSearch(context.Background(), "_", &storage.TextSearchOptions{UserID: "u", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testIncrementUsage(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := insert(t, s, &storage.Memory{UserID: "u", Content: "m"})

	require.NoError(t, s.IncrementUsage(ctx, m.ID, "search_result"))
	require.NoError(t, s.IncrementUsage(ctx, m.ID, "search_result"))
	require.NoError(t, s.IncrementUsage(ctx, m.ID, "context_suggestion"))

	got, err := s.GetMemory(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.UsageCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.Equal(t, 2, got.AccessPattern.Contexts["search_result"])
	assert.Equal(t, 1, got.AccessPattern.Contexts["context_suggestion"])
	assert.Len(t, got.AccessPattern.AccessTimestamps, 3)

	err = s.IncrementUsage(ctx, 987654321, "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRecordCoAccess(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, &storage.Memory{UserID: "u", Content: "a"})
	b := insert(t, s, &storage.Memory{UserID: "u", Content: "b"})
	c := insert(t, s, &storage.Memory{UserID: "u", Content: "c"})

	require.NoError(t, s.RecordCoAccess(ctx, []int64{a.ID, b.ID, a.ID, 777}))
	require.NoError(t, s.RecordCoAccess(ctx, []int64{a.ID, b.ID}))
	require.NoError(t, s.RecordCoAccess(ctx, []int64{c.ID}))

	gotA, err := s.GetMemory(ctx, a.ID, nil)
	require.NoError(t, err)
	gotB, err := s.GetMemory(ctx, b.ID, nil)
	require.NoError(t, err)
	gotC, err := s.GetMemory(ctx, c.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{b.ID}, gotA.AccessPattern.CoAccessedWith)
	assert.Equal(t, []int64{a.ID}, gotB.AccessPattern.CoAccessedWith)
	assert.Empty(t, gotC.AccessPattern.CoAccessedWith)
}

func testHelpfulness(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := insert(t, s, &storage.Memory{UserID: "u", Content: "m"})

	up, err := s.UpdateHelpfulness(ctx, m.ID, true, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, up, 1e-9)

	down, err := s.UpdateHelpfulness(ctx, m.ID, false, nil)
	require.NoError(t, err)
	assert.Less(t, down, up)

	require.NoError(t, s.AppendFeedbackContext(ctx, m.ID, storage.FeedbackEntry{
		Context: "billing question", Helpful: true, Timestamp: time.Now().UTC(),
	}))

	got, err := s.GetMemory(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, down, got.HelpfulnessScore, 1e-9)
	require.Len(t, got.AccessPattern.FeedbackContexts, 1)
	assert.Equal(t, "billing question", got.AccessPattern.FeedbackContexts[0].Context)
	assert.Equal(t, int64(0), got.UsageCount)

	_, err = s.UpdateHelpfulness(ctx, 13579, true, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testLearningWeights(t *testing.T, s storage.Store) {
	ctx := context.Background()

	w, err := s.GetLearningWeights(ctx, "u")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, w.UsageWeight, 1e-9)
	assert.InDelta(t, 0.2, w.RecencyWeight, 1e-9)
	assert.InDelta(t, 0.5, w.HelpfulnessWeight, 1e-9)

	next, err := s.UpdateLearningParams(ctx, "u", true, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, next.HelpfulnessWeight, 1e-9)

	again, err := s.GetLearningWeights(ctx, "u")
	require.NoError(t, err)
	assert.InDelta(t, next.HelpfulnessWeight, again.HelpfulnessWeight, 1e-9)

	fresh, err := s.UpdateLearningParams(ctx, "new-user", false, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, fresh.HelpfulnessWeight, 1e-9)
}

func testPatternUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	hour := 14
	now := time.Now().UTC()

	p := &storage.TemporalPattern{
		UserID:     "u",
		Type:       storage.PatternHourly,
		Data:       storage.PatternData{Hour: &hour, MemoryIDs: []int64{1, 2, 3}},
		Confidence: 0.3,
		FirstSeen:  now,
		LastSeen:   now,
	}
	require.NoError(t, s.UpsertTemporalPattern(ctx, p))

	again := *p
	again.ID = 0
	again.Confidence = 0.4
	again.LastSeen = now.Add(time.Hour)
	require.NoError(t, s.UpsertTemporalPattern(ctx, &again))

	patterns, err := s.ListTemporalPatterns(ctx, &storage.PatternListOptions{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].OccurrenceCount)
	assert.InDelta(t, 0.4, patterns[0].Confidence, 1e-9)
	require.NotNil(t, patterns[0].Data.Hour)
	assert.Equal(t, 14, *patterns[0].Data.Hour)
	assert.False(t, patterns[0].LastSeen.Before(patterns[0].FirstSeen))

	filtered, err := s.ListTemporalPatterns(ctx, &storage.PatternListOptions{UserID: "u", MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	bad := &storage.TemporalPattern{UserID: "u", Type: "weekly", Confidence: 0.5}
	assert.Error(t, s.UpsertTemporalPattern(ctx, bad))
}

func testRelationships(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, &storage.Memory{UserID: "u", Content: "a"})
	b := insert(t, s, &storage.Memory{UserID: "u", Content: "b"})
	c := insert(t, s, &storage.Memory{UserID: "u", Content: "c"})

	created, err := s.CreateRelationship(ctx, &storage.Relationship{
		UserID: "u", MemoryID: a.ID, RelatedMemoryID: b.ID, Type: storage.RelatedTo, Strength: 0.8,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateRelationship(ctx, &storage.Relationship{
		UserID: "u", MemoryID: b.ID, RelatedMemoryID: a.ID, Type: storage.SimilarTo, Strength: 0.9,
	})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.CreateRelationship(ctx, &storage.Relationship{
		UserID: "u", MemoryID: c.ID, RelatedMemoryID: b.ID, Type: storage.Follows, Strength: 0.4,
	})
	require.NoError(t, err)
	assert.True(t, created)

	all, err := s.ListRelationships(ctx, &storage.RelationshipListOptions{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, storage.RelatedTo, all[0].Type)

	outgoing, err := s.ListRelationships(ctx, &storage.RelationshipListOptions{UserID: "u", MemoryIDs: []int64{b.ID}})
	require.NoError(t, err)
	assert.Empty(t, outgoing)

	touching, err := s.ListRelationships(ctx, &storage.RelationshipListOptions{
		UserID: "u", MemoryIDs: []int64{b.ID}, Touching: true, MinStrength: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, touching, 1)
	assert.Equal(t, a.ID, touching[0].Other(b.ID))
}
