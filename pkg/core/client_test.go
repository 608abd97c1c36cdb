package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memlearn "github.com/oceanbase/memlearn-go/pkg/core"
	"github.com/oceanbase/memlearn-go/pkg/prediction"
	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

var now = time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

// topicEmbedder maps text onto one axis per known topic word.
type topicEmbedder struct {
	fail bool
}

var topics = []string{"deploy", "pricing", "database"}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.fail {
		return nil, errors.New("embedding service down")
	}
	vec := make([]float64, len(topics)+1)
	lower := strings.ToLower(text)
	hit := false
	for i, topic := range topics {
		if strings.Contains(lower, topic) {
			vec[i] = 1
			hit = true
		}
	}
	if !hit {
		vec[len(topics)] = 1
	}
	return vec, nil
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) Dimensions() int { return len(topics) + 1 }

func (e *topicEmbedder) Close() error { return nil }

func memoryConfig() *memlearn.Config {
	return &memlearn.Config{
		VectorStore: memlearn.VectorStoreConfig{Provider: "memory"},
		Learning:    memlearn.DefaultLearningConfig(),
	}
}

func newClient(t *testing.T, opts ...memlearn.ClientOption) *memlearn.Client {
	t.Helper()
	opts = append([]memlearn.ClientOption{
		memlearn.WithClock(clock),
		memlearn.WithLogger(zap.NewNop()),
	}, opts...)
	client, err := memlearn.NewClient(memoryConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func add(t *testing.T, client *memlearn.Client, content string, opts ...memlearn.AddOption) *memlearn.Memory {
	t.Helper()
	opts = append([]memlearn.AddOption{memlearn.WithUserID("user_001")}, opts...)
	m, err := client.Add(context.Background(), content, opts...)
	require.NoError(t, err)
	return m
}

func TestClient_AddAndGet(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{}))

	m := add(t, client, "Deploy with blue-green on Fridays", memlearn.WithTags("ops"), memlearn.WithAgentID("agent_1"))
	assert.NotZero(t, m.ID)
	assert.Equal(t, storage.DefaultHelpfulness, m.HelpfulnessScore)
	assert.Zero(t, m.UsageCount)
	assert.Equal(t, []float64{1, 0, 0, 0}, m.Embedding)
	assert.Equal(t, now, m.CreatedAt)

	got, err := client.Get(ctx, m.ID, memlearn.WithUserIDForGet("user_001"))
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, []string{"ops"}, got.Tags)
	assert.Equal(t, "agent_1", got.AgentID)

	_, err = client.Get(ctx, m.ID, memlearn.WithUserIDForGet("user_002"))
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))

	all, err := client.GetAll(ctx, memlearn.WithUserIDForGetAll("user_001"))
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, client.Delete(ctx, m.ID, memlearn.WithUserIDForDelete("user_001")))
	_, err = client.Get(ctx, m.ID)
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))
}

func TestClient_AddValidation(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	_, err := client.Add(ctx, "no owner")
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))

	_, err = client.Add(ctx, "   ", memlearn.WithUserID("user_001"))
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))

	var memErr *memlearn.MemoryError
	require.True(t, errors.As(err, &memErr))
	assert.Equal(t, "Add", memErr.Op)
}

func TestClient_AddWithoutEmbeddingFallsBackToText(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{fail: true}))

	m := add(t, client, "Plan A pricing is per seat")
	assert.Nil(t, m.Embedding)

	result, err := client.Search(ctx, "pricing", memlearn.WithUserIDForSearch("user_001"))
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodText, result.SearchMethod)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, m.ID, result.Memories[0].Memory.ID)
}

func TestClient_AddDeduplicate(t *testing.T) {
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{}))

	first := add(t, client, "Deploy on Fridays")
	second := add(t, client, "We deploy every Friday", memlearn.WithDeduplicate(0))
	assert.Equal(t, first.ID, second.ID)

	third := add(t, client, "Database backups run nightly", memlearn.WithDeduplicate(0))
	assert.NotEqual(t, first.ID, third.ID)
}

func TestClient_SearchSemantic(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{}))

	deploy := add(t, client, "Deploy with blue-green")
	add(t, client, "Pricing tiers for enterprise")
	add(t, client, "Deploy for user two", memlearn.WithUserID("user_002"))

	result, err := client.Search(ctx, "how do we deploy",
		memlearn.WithUserIDForSearch("user_001"),
		memlearn.WithMinScore(0.5),
		memlearn.WithWeightByUsage(true),
	)
	require.NoError(t, err)
	assert.Equal(t, ranking.MethodSemantic, result.SearchMethod)
	assert.True(t, result.Weighted)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, deploy.ID, result.Memories[0].Memory.ID)
	assert.InDelta(t, 1.0, result.Memories[0].BaseSimilarity, 1e-9)
}

func TestClient_SearchValidation(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	_, err := client.Search(ctx, "query")
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
	assert.True(t, errors.Is(err, ranking.ErrInvalidRequest))

	_, err = client.Search(ctx, "query", memlearn.WithUserIDForSearch("user_001"), memlearn.WithMinHelpfulness(1.5))
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_Feedback(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{}))
	m := add(t, client, "Deploy with blue-green")

	result, err := client.Feedback(ctx, "user_001", m.ID, true,
		memlearn.WithSatisfaction(1),
		memlearn.WithFeedbackContext("release checklist"),
	)
	require.NoError(t, err)
	assert.Greater(t, result.NewHelpfulnessScore, storage.DefaultHelpfulness)
	defaults := storage.DefaultLearningWeights("user_001")
	assert.Greater(t, result.Weights.HelpfulnessWeight, defaults.HelpfulnessWeight)

	got, err := client.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, result.NewHelpfulnessScore, got.HelpfulnessScore)
	require.Len(t, got.AccessPattern.FeedbackContexts, 1)
	assert.Equal(t, "release checklist", got.AccessPattern.FeedbackContexts[0].Context)

	_, err = client.Feedback(ctx, "user_002", m.ID, true)
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))

	_, err = client.Feedback(ctx, "user_001", m.ID, true, memlearn.WithSatisfaction(2))
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_TrackAccessAndPredict(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	a := add(t, client, "Open the incident channel")
	b := add(t, client, "Page the on-call engineer")
	add(t, client, "Quarterly planning notes")

	require.NoError(t, client.TrackAccess(ctx, "user_001", []int64{a.ID, b.ID}, "incident"))

	require.Eventually(t, func() bool {
		got, err := client.Get(ctx, a.ID)
		if err != nil || got.UsageCount != 1 {
			return false
		}
		for _, id := range got.AccessPattern.CoAccessedWith {
			if id == b.ID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	result, err := client.Predict(ctx, "user_001", []int64{a.ID})
	require.NoError(t, err)
	require.NotEmpty(t, result.Predictions)
	assert.Equal(t, b.ID, result.Predictions[0].MemoryID)
	assert.Contains(t, result.Predictions[0].Reasons, prediction.ReasonCoAccess)
	assert.Equal(t, []int64{a.ID}, result.Predictions[0].RelatedTo)
}

func TestClient_TrackAccessRejectsForeignMemories(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	m := add(t, client, "Owned by user one")

	err := client.TrackAccess(ctx, "user_002", []int64{m.ID}, "")
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))

	err = client.TrackAccess(ctx, "user_001", nil, "")
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_PredictValidation(t *testing.T) {
	client := newClient(t)

	_, err := client.Predict(context.Background(), "user_001", []int64{0})
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_Suggest(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, memlearn.WithEmbedder(&topicEmbedder{}))
	deploy := add(t, client, "Deploy with blue-green")
	add(t, client, "Database backups run nightly")

	result, err := client.Suggest(ctx, "user_001", "preparing the deploy", memlearn.WithReasoning(true))
	require.NoError(t, err)
	require.NotEmpty(t, result.Suggestions)
	first := result.Suggestions[0]
	assert.Equal(t, deploy.ID, first.Memory.ID)
	require.NotNil(t, first.Reasoning)
	assert.Equal(t, ranking.MatchHigh, first.Reasoning.SemanticMatch)

	_, err = client.Suggest(ctx, "user_001", "  ")
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_ApplySuggestionAndRelated(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	a := add(t, client, "Incident runbook")
	b := add(t, client, "Escalation policy")
	c := add(t, client, "Postmortem template")
	foreign := add(t, client, "Other user's note", memlearn.WithUserID("user_002"))

	suggestion := memlearn.RelationshipSuggestion{
		MemoryID:        a.ID,
		RelatedMemoryID: b.ID,
		SuggestedType:   storage.Follows,
		Confidence:      0.8,
		Reason:          "co-accessed 6 times",
	}
	created, err := client.ApplySuggestion(ctx, "user_001", suggestion)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.ApplySuggestion(ctx, "user_001", suggestion)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = client.ApplySuggestion(ctx, "user_001", memlearn.RelationshipSuggestion{
		MemoryID: b.ID, RelatedMemoryID: c.ID, SuggestedType: storage.RelatedTo, Confidence: 0.7,
	})
	require.NoError(t, err)

	_, err = client.ApplySuggestion(ctx, "user_001", memlearn.RelationshipSuggestion{
		MemoryID: a.ID, RelatedMemoryID: foreign.ID, SuggestedType: storage.RelatedTo, Confidence: 0.7,
	})
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))

	_, err = client.ApplySuggestion(ctx, "user_001", memlearn.RelationshipSuggestion{
		MemoryID: a.ID, RelatedMemoryID: c.ID, SuggestedType: "sibling_of", Confidence: 0.7,
	})
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))

	related, err := client.Related(ctx, "user_001", a.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, b.ID, related[0].Memory.ID)

	related, err = client.Related(ctx, "user_001", a.ID, 2)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, c.ID, related[1].Memory.ID)
	assert.Equal(t, 2, related[1].Depth)

	_, err = client.Related(ctx, "user_002", a.ID, 1)
	assert.True(t, errors.Is(err, memlearn.ErrNotFound))
}

func TestClient_AnalyzeAndMaintenance(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	add(t, client, "Restart the ingest worker when the queue backs up")
	add(t, client, "Restart the ingest worker when the queue backs up")

	report, err := client.Analyze(ctx, "user_001")
	require.NoError(t, err)
	assert.Equal(t, "user_001", report.UserID)
	assert.Empty(t, report.Errors)
	require.Len(t, report.Duplicates, 1)
	assert.Len(t, report.Duplicates[0].MemoryIDs, 2)

	maintenance, err := client.MaintenanceSuggestions(ctx, "user_001")
	require.NoError(t, err)
	assert.Len(t, maintenance.Duplicates, 1)

	_, err = client.Analyze(ctx, "")
	assert.True(t, errors.Is(err, memlearn.ErrInvalidInput))
}

func TestClient_TriggerLearning(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	add(t, client, "Anything at all")

	status := client.LearningStatus()
	assert.False(t, status.Started)
	assert.Zero(t, status.Runs)

	require.NoError(t, client.TriggerLearning(ctx))

	status = client.LearningStatus()
	assert.Equal(t, int64(1), status.Runs)
	require.NotNil(t, status.LastRunTime)
	assert.Empty(t, status.LastError)
}

func TestClient_SchedulerEnabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Learning.SchedulerEnabled = true
	cfg.Learning.SchedulerInterval = time.Hour

	client, err := memlearn.NewClient(cfg, memlearn.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.True(t, client.LearningStatus().Started)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}

func TestNewClient_RejectsInvalidConfig(t *testing.T) {
	_, err := memlearn.NewClient(&memlearn.Config{
		VectorStore: memlearn.VectorStoreConfig{Provider: "cassandra"},
	})
	assert.True(t, errors.Is(err, memlearn.ErrInvalidConfig))

	_, err = memlearn.NewClient(nil)
	assert.True(t, errors.Is(err, memlearn.ErrInvalidConfig))
}

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()
	client, err := memlearn.NewAsyncClient(memoryConfig(),
		memlearn.WithClock(clock),
		memlearn.WithLogger(zap.NewNop()),
		memlearn.WithEmbedder(&topicEmbedder{}),
	)
	require.NoError(t, err)
	defer client.Close()

	added := <-client.AddAsync(ctx, "Deploy checklist", memlearn.WithUserID("user_001"))
	require.NoError(t, added.Error)

	found := <-client.SearchAsync(ctx, "deploy", memlearn.WithUserIDForSearch("user_001"))
	require.NoError(t, found.Error)
	require.Len(t, found.Value.Memories, 1)
	assert.Equal(t, added.Value.ID, found.Value.Memories[0].Memory.ID)

	fb := <-client.FeedbackAsync(ctx, "user_001", added.Value.ID, false)
	require.NoError(t, fb.Error)
	assert.Less(t, fb.Value.NewHelpfulnessScore, storage.DefaultHelpfulness)

	client.Wait()
}
