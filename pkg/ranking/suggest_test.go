package ranking_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

func TestSuggest_ReasoningAndFiltering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine().Suggest(ctx, ranking.SuggestRequest{
		UserID: "user_001", Context: "pricing", MinConfidence: 0.6, IncludeReasoning: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)

	s := res.Suggestions[0]
	assert.Equal(t, f.a.ID, s.Memory.ID)
	assert.Equal(t, s.WeightedScore, s.Confidence)
	require.NotNil(t, s.Reasoning)
	assert.Equal(t, ranking.MatchMedium, s.Reasoning.SemanticMatch)
	assert.True(t, s.Reasoning.FrequentlyUsed)
	assert.True(t, s.Reasoning.RecentlyAccessed)
	assert.True(t, s.Reasoning.HighHelpfulness)
	assert.Equal(t, 0.5, s.Reasoning.Weights.HelpfulnessWeight)

	require.Len(t, f.sink.calls, 1)
	assert.Equal(t, ranking.ContextContextSuggestion, f.sink.calls[0].context)
	assert.Equal(t, []int64{f.a.ID}, f.sink.calls[0].ids)
}

func TestSuggest_UsesLearnedWeights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := f.engine()

	before, err := engine.Suggest(ctx, ranking.SuggestRequest{UserID: "user_001", Context: "pricing"})
	require.NoError(t, err)
	_, err = f.store.UpdateLearningParams(ctx, "user_001", true, nil)
	require.NoError(t, err)
	after, err := engine.Suggest(ctx, ranking.SuggestRequest{UserID: "user_001", Context: "pricing"})
	require.NoError(t, err)

	require.NotEmpty(t, before.Suggestions)
	require.NotEmpty(t, after.Suggestions)
	assert.Greater(t, after.Suggestions[0].Confidence, before.Suggestions[0].Confidence)
}

func TestSuggest_AttachesStrongEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, rel := range []*storage.Relationship{
		{UserID: "user_001", MemoryID: 777, RelatedMemoryID: f.a.ID, Type: storage.CausedBy, Strength: 0.8},
		{UserID: "user_001", MemoryID: f.a.ID, RelatedMemoryID: 888, Type: storage.RelatedTo, Strength: 0.3},
	} {
		_, err := f.store.CreateRelationship(ctx, rel)
		require.NoError(t, err)
	}

	res, err := f.engine().Suggest(ctx, ranking.SuggestRequest{UserID: "user_001", Context: "pricing", Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)
	require.Len(t, res.Suggestions[0].Relationships, 1)
	assert.Equal(t, storage.CausedBy, res.Suggestions[0].Relationships[0].Type)
	assert.Nil(t, res.Suggestions[0].Reasoning)
}

func TestSuggest_TextFallbackIsLowMatch(t *testing.T) {
	f := newFixture(t)
	engine := ranking.NewEngine(f.store,
		ranking.WithEmbedder(&fakeEmbedder{err: errors.New("offline")}),
		ranking.WithNow(clock))
	res, err := engine.Suggest(context.Background(), ranking.SuggestRequest{
		UserID: "user_001", Context: "pricing", IncludeReasoning: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodText, res.SearchMethod)
	require.NotEmpty(t, res.Suggestions)
	for _, s := range res.Suggestions {
		assert.Equal(t, ranking.MatchLow, s.Reasoning.SemanticMatch)
	}
}

func TestSuggest_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine().Suggest(context.Background(), ranking.SuggestRequest{UserID: "user_001"})
	assert.ErrorIs(t, err, ranking.ErrInvalidRequest)
	_, err = f.engine().Suggest(context.Background(), ranking.SuggestRequest{UserID: "user_001", Context: "x", MinConfidence: 2})
	assert.ErrorIs(t, err, ranking.ErrInvalidRequest)
	assert.Empty(t, f.sink.calls)
}
