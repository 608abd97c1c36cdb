package ranking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/storage/memstore"
)

var now = time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

func (f *fakeEmbedder) Close() error { return nil }

type usageCall struct {
	ids     []int64
	context string
}

type recordingSink struct {
	calls []usageCall
}

func (r *recordingSink) Increment(ids []int64, usageContext string) bool {
	r.calls = append(r.calls, usageCall{ids: append([]int64(nil), ids...), context: usageContext})
	return true
}

type fixture struct {
	store *memstore.Store
	sink  *recordingSink
	a, b  *storage.Memory
}

// newFixture stores two "pricing" memories with base similarity 0.6 to the
// query: A is popular, helpful and fresh, B is barely used and 100 days idle.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memstore.New(memstore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	today := now.Add(-time.Hour)
	longAgo := now.Add(-100 * 24 * time.Hour)
	f := &fixture{store: store, sink: &recordingSink{}}
	f.a = &storage.Memory{
		UserID: "user_001", Content: "pricing tiers for enterprise",
		Embedding: []float64{0.6, 0.8}, UsageCount: 50, HelpfulnessScore: 0.9,
		LastAccessedAt: &today, CreatedAt: longAgo,
	}
	f.b = &storage.Memory{
		UserID: "user_001", Content: "pricing page draft",
		Embedding: []float64{0.6, -0.8}, UsageCount: 1, HelpfulnessScore: 0.5,
		LastAccessedAt: &longAgo, CreatedAt: longAgo,
	}
	require.NoError(t, store.InsertMemory(context.Background(), f.a))
	require.NoError(t, store.InsertMemory(context.Background(), f.b))
	return f
}

func (f *fixture) engine(opts ...ranking.Option) *ranking.Engine {
	emb := &fakeEmbedder{vectors: map[string][]float64{"pricing": {1, 0}}}
	opts = append([]ranking.Option{
		ranking.WithEmbedder(emb),
		ranking.WithUsage(f.sink),
		ranking.WithNow(clock),
	}, opts...)
	return ranking.NewEngine(f.store, opts...)
}

func ids(memories []ranking.ScoredMemory) []int64 {
	out := make([]int64, len(memories))
	for i, m := range memories {
		out[i] = m.Memory.ID
	}
	return out
}

func TestSearch_UsageWeightingPrefersPopularMemory(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine().Search(context.Background(), ranking.SearchRequest{
		UserID: "user_001", Query: "pricing", Limit: 5, WeightByUsage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodSemantic, res.SearchMethod)
	assert.True(t, res.Weighted)
	require.Len(t, res.Memories, 2)

	a, b := res.Memories[0], res.Memories[1]
	assert.Equal(t, f.a.ID, a.Memory.ID)
	assert.InDelta(t, 0.6, a.BaseSimilarity, 1e-9)
	assert.InDelta(t, 0.6, b.BaseSimilarity, 1e-9)
	assert.Greater(t, a.WeightedScore, b.WeightedScore)
}

func TestSearch_Idempotent(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	req := ranking.SearchRequest{UserID: "user_001", Query: "pricing", WeightByUsage: true, DecayOldMemories: true}

	first, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ids(first.Memories), ids(second.Memories))
}

func TestSearch_HigherUsageRanksFirst(t *testing.T) {
	store, err := memstore.New(memstore.WithClock(clock))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	low := &storage.Memory{UserID: "u", Content: "pricing", Embedding: []float64{1, 0}, UsageCount: 2, HelpfulnessScore: 0.5, CreatedAt: now}
	high := &storage.Memory{UserID: "u", Content: "pricing", Embedding: []float64{1, 0}, UsageCount: 20, HelpfulnessScore: 0.5, CreatedAt: now}
	require.NoError(t, store.InsertMemory(ctx, low))
	require.NoError(t, store.InsertMemory(ctx, high))

	engine := ranking.NewEngine(store,
		ranking.WithEmbedder(&fakeEmbedder{vectors: map[string][]float64{"pricing": {1, 0}}}),
		ranking.WithNow(clock))
	res, err := engine.Search(ctx, ranking.SearchRequest{UserID: "u", Query: "pricing", WeightByUsage: true})
	require.NoError(t, err)
	require.Len(t, res.Memories, 2)
	assert.Equal(t, high.ID, res.Memories[0].Memory.ID)
	assert.GreaterOrEqual(t, res.Memories[0].WeightedScore, res.Memories[1].WeightedScore)
}

func TestSearch_DecayPenalizesOldMemories(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	ctx := context.Background()

	plain, err := engine.Search(ctx, ranking.SearchRequest{UserID: "user_001", Query: "pricing", WeightByUsage: true})
	require.NoError(t, err)
	decayed, err := engine.Search(ctx, ranking.SearchRequest{UserID: "user_001", Query: "pricing", WeightByUsage: true, DecayOldMemories: true})
	require.NoError(t, err)

	byID := func(res *ranking.SearchResult, id int64) ranking.ScoredMemory {
		for _, m := range res.Memories {
			if m.Memory.ID == id {
				return m
			}
		}
		t.Fatalf("memory %d not returned", id)
		return ranking.ScoredMemory{}
	}

	oldPlain, oldDecayed := byID(plain, f.b.ID), byID(decayed, f.b.ID)
	assert.True(t, oldDecayed.PenalizedByAge)
	assert.False(t, oldDecayed.BoostedByRecency)
	assert.LessOrEqual(t, oldDecayed.WeightedScore, oldPlain.WeightedScore)
	assert.InDelta(t, oldPlain.WeightedScore*0.7, oldDecayed.WeightedScore, 1e-9)

	fresh := byID(decayed, f.a.ID)
	assert.True(t, fresh.BoostedByRecency)
	assert.InDelta(t, byID(plain, f.a.ID).WeightedScore*1.2, fresh.WeightedScore, 1e-9)
}

func TestSearch_MinHelpfulnessDropsCandidates(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine().Search(context.Background(), ranking.SearchRequest{
		UserID: "user_001", Query: "pricing", WeightByUsage: true, MinHelpfulness: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{f.a.ID}, ids(res.Memories))
}

func TestSearch_TextFallback(t *testing.T) {
	f := newFixture(t)
	engine := ranking.NewEngine(f.store,
		ranking.WithEmbedder(&fakeEmbedder{err: errors.New("embedding service down")}),
		ranking.WithNow(clock))

	res, err := engine.Search(context.Background(), ranking.SearchRequest{
		UserID: "user_001", Query: "PRICING", WeightByUsage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodText, res.SearchMethod)
	require.Len(t, res.Memories, 2)
	assert.Equal(t, f.a.ID, res.Memories[0].Memory.ID)
	assert.InDelta(t, 51*0.9, res.Memories[0].WeightedScore, 1e-9)
	assert.InDelta(t, 2*0.5, res.Memories[1].WeightedScore, 1e-9)
	assert.Zero(t, res.Memories[0].BaseSimilarity)
}

func TestSearch_NoEmbedderUsesText(t *testing.T) {
	f := newFixture(t)
	res, err := ranking.NewEngine(f.store).Search(context.Background(), ranking.SearchRequest{
		UserID: "user_001", Query: "draft",
	})
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodText, res.SearchMethod)
	assert.False(t, res.Weighted)
	assert.Equal(t, []int64{f.b.ID}, ids(res.Memories))
}

func TestSearch_LearningModeRecordsUsage(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	ctx := context.Background()

	_, err := engine.Search(ctx, ranking.SearchRequest{UserID: "user_001", Query: "pricing", Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, f.sink.calls)

	res, err := engine.Search(ctx, ranking.SearchRequest{UserID: "user_001", Query: "pricing", Limit: 1, LearningMode: true})
	require.NoError(t, err)
	require.Len(t, f.sink.calls, 1)
	assert.Equal(t, ranking.ContextSearchResult, f.sink.calls[0].context)
	assert.Equal(t, ids(res.Memories), f.sink.calls[0].ids)
}

func TestSearch_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	engine := f.engine()
	tests := []struct {
		name string
		req  ranking.SearchRequest
	}{
		{"missing user", ranking.SearchRequest{Query: "pricing"}},
		{"blank query", ranking.SearchRequest{UserID: "user_001", Query: "  "}},
		{"negative limit", ranking.SearchRequest{UserID: "user_001", Query: "pricing", Limit: -1}},
		{"helpfulness above one", ranking.SearchRequest{UserID: "user_001", Query: "pricing", MinHelpfulness: 1.5}},
		{"negative threshold", ranking.SearchRequest{UserID: "user_001", Query: "pricing", Threshold: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, ranking.ErrInvalidRequest)
		})
	}
}

func TestUsageScore(t *testing.T) {
	assert.Zero(t, ranking.UsageScore(0))
	assert.Zero(t, ranking.UsageScore(-3))
	assert.InDelta(t, 1.0, ranking.UsageScore(99), 1e-9)
	assert.InDelta(t, 1.0, ranking.UsageScore(10000), 1e-9)
	assert.Less(t, ranking.UsageScore(10), ranking.UsageScore(11))
}
