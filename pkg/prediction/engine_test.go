package prediction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/prediction"
	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/storage/memstore"
)

// Wednesday 14:30 UTC.
var now = time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float64, error) { return f.vec, f.err }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, errors.New("not used")
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

func (f *fakeEmbedder) Close() error { return nil }

type coAccessRecorder struct {
	episodes [][]int64
}

func (r *coAccessRecorder) CoAccess(ids []int64) bool {
	r.episodes = append(r.episodes, append([]int64(nil), ids...))
	return true
}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := memstore.New(memstore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func add(t *testing.T, store storage.Store, content string, helpfulness float64) *storage.Memory {
	t.Helper()
	m := &storage.Memory{UserID: "user_001", Content: content, HelpfulnessScore: helpfulness}
	require.NoError(t, store.InsertMemory(context.Background(), m))
	return m
}

func find(t *testing.T, res *prediction.Result, id int64) prediction.Prediction {
	t.Helper()
	for _, p := range res.Predictions {
		if p.MemoryID == id {
			return p
		}
	}
	t.Fatalf("memory %d not predicted", id)
	return prediction.Prediction{}
}

func TestPredict_HourlyPatternAtMatchingHour(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := add(t, store, "standup notes", 0.5)
	b := add(t, store, "sprint board", 0.5)

	hour := 14
	require.NoError(t, store.UpsertTemporalPattern(ctx, &storage.TemporalPattern{
		UserID: "user_001", Type: storage.PatternHourly, Confidence: 0.6, OccurrenceCount: 1,
		Data: storage.PatternData{Hour: &hour, MemoryIDs: []int64{a.ID, b.ID}},
	}))

	res, err := prediction.NewEngine(store, prediction.WithNow(clock)).Predict(ctx, prediction.Request{UserID: "user_001"})
	require.NoError(t, err)
	require.Len(t, res.Predictions, 2)
	for _, id := range []int64{a.ID, b.ID} {
		p := find(t, res, id)
		assert.Equal(t, []string{prediction.TemporalTag(storage.PatternHourly)}, p.Reasons)
		assert.InDelta(t, 0.6*0.3*0.75, p.Confidence, 1e-9)
	}

	later := func() time.Time { return now.Add(time.Hour) }
	res, err = prediction.NewEngine(store, prediction.WithNow(later)).Predict(ctx, prediction.Request{UserID: "user_001"})
	require.NoError(t, err)
	assert.Empty(t, res.Predictions)
}

func TestPredict_WeakPatternsIgnored(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := add(t, store, "x", 0.5)
	hour := 14
	require.NoError(t, store.UpsertTemporalPattern(ctx, &storage.TemporalPattern{
		UserID: "user_001", Type: storage.PatternHourly, Confidence: 0.4, OccurrenceCount: 1,
		Data: storage.PatternData{Hour: &hour, MemoryIDs: []int64{a.ID}},
	}))

	res, err := prediction.NewEngine(store, prediction.WithNow(clock)).Predict(ctx, prediction.Request{UserID: "user_001"})
	require.NoError(t, err)
	assert.Empty(t, res.Predictions)
}

func TestPredict_CoAccessAndRelationships(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	recent := add(t, store, "incident timeline", 0.5)
	co := add(t, store, "postmortem template", 1.0)
	cause := add(t, store, "expired certificate", 0.0)
	require.NoError(t, store.RecordCoAccess(ctx, []int64{recent.ID, co.ID}))
	_, err := store.CreateRelationship(ctx, &storage.Relationship{
		UserID: "user_001", MemoryID: recent.ID, RelatedMemoryID: cause.ID, Type: storage.CausedBy, Strength: 0.5,
	})
	require.NoError(t, err)

	recorder := &coAccessRecorder{}
	engine := prediction.NewEngine(store, prediction.WithNow(clock), prediction.WithCoAccess(recorder))
	res, err := engine.Predict(ctx, prediction.Request{UserID: "user_001", RecentMemoryIDs: []int64{recent.ID}})
	require.NoError(t, err)
	require.Len(t, res.Predictions, 2)

	first := res.Predictions[0]
	assert.Equal(t, co.ID, first.MemoryID)
	assert.Equal(t, []string{prediction.ReasonCoAccess}, first.Reasons)
	assert.Equal(t, []int64{recent.ID}, first.RelatedTo)
	assert.InDelta(t, 0.3, first.Confidence, 1e-9)

	second := res.Predictions[1]
	assert.Equal(t, cause.ID, second.MemoryID)
	assert.Equal(t, []string{"caused_by_relationship"}, second.Reasons)
	assert.InDelta(t, 0.5*0.4*0.5, second.Confidence, 1e-9)

	for _, p := range res.Predictions {
		assert.NotEqual(t, recent.ID, p.MemoryID)
	}
	assert.Empty(t, recorder.episodes)
}

func TestPredict_ConfidenceIsClamped(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	target := &storage.Memory{UserID: "user_001", Content: "runbook", HelpfulnessScore: 1, Embedding: []float64{1, 0}}
	require.NoError(t, store.InsertMemory(ctx, target))

	var recent []int64
	for i := 0; i < 5; i++ {
		r := add(t, store, "page", 0.5)
		recent = append(recent, r.ID)
		_, err := store.CreateRelationship(ctx, &storage.Relationship{
			UserID: "user_001", MemoryID: r.ID, RelatedMemoryID: target.ID, Type: storage.Follows, Strength: 1,
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.RecordCoAccess(ctx, append([]int64{target.ID}, recent...)))

	recorder := &coAccessRecorder{}
	engine := prediction.NewEngine(store,
		prediction.WithNow(clock),
		prediction.WithEmbedder(&fakeEmbedder{vec: []float64{1, 0}}),
		prediction.WithCoAccess(recorder))
	res, err := engine.Predict(ctx, prediction.Request{UserID: "user_001", RecentMemoryIDs: recent, Context: "the runbook"})
	require.NoError(t, err)
	require.Len(t, res.Predictions, 1)

	p := res.Predictions[0]
	assert.Equal(t, target.ID, p.MemoryID)
	assert.Equal(t, 1.0, p.Confidence)
	assert.ElementsMatch(t, []string{prediction.ReasonCoAccess, "follows_relationship", prediction.ReasonContextSimilarity}, p.Reasons)
	assert.ElementsMatch(t, recent, p.RelatedTo)

	require.Len(t, recorder.episodes, 1)
	assert.Equal(t, recent, recorder.episodes[0])
}

func TestPredict_SequenceAndDailyPatterns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	first := add(t, store, "open ticket", 0.5)
	next := add(t, store, "triage checklist", 0.5)
	other := add(t, store, "weekly report", 0.5)

	require.NoError(t, store.UpsertTemporalPattern(ctx, &storage.TemporalPattern{
		UserID: "user_001", Type: storage.PatternSequence, Confidence: 0.8, OccurrenceCount: 1,
		Data: storage.PatternData{Sequence: []int64{first.ID, next.ID}, MemoryIDs: []int64{first.ID, next.ID}},
	}))
	friday := int(time.Friday)
	require.NoError(t, store.UpsertTemporalPattern(ctx, &storage.TemporalPattern{
		UserID: "user_001", Type: storage.PatternDaily, Confidence: 0.9, OccurrenceCount: 1,
		Data: storage.PatternData{Weekday: &friday, MemoryIDs: []int64{other.ID}},
	}))

	engine := prediction.NewEngine(store, prediction.WithNow(clock))
	res, err := engine.Predict(ctx, prediction.Request{UserID: "user_001", RecentMemoryIDs: []int64{first.ID}})
	require.NoError(t, err)
	require.Len(t, res.Predictions, 1)
	assert.Equal(t, next.ID, res.Predictions[0].MemoryID)
	assert.Equal(t, []string{prediction.TemporalTag(storage.PatternSequence)}, res.Predictions[0].Reasons)

	res, err = engine.Predict(ctx, prediction.Request{UserID: "user_001", RecentMemoryIDs: []int64{other.ID}})
	require.NoError(t, err)
	assert.Empty(t, res.Predictions)
}

func TestPredict_ContextFallbackAndOwnership(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	mine := add(t, store, "mine", 0.5)
	theirs := &storage.Memory{UserID: "user_002", Content: "theirs", HelpfulnessScore: 0.5}
	require.NoError(t, store.InsertMemory(ctx, theirs))
	require.NoError(t, store.RecordCoAccess(ctx, []int64{mine.ID, theirs.ID}))

	engine := prediction.NewEngine(store,
		prediction.WithNow(clock),
		prediction.WithEmbedder(&fakeEmbedder{err: errors.New("offline")}))
	res, err := engine.Predict(ctx, prediction.Request{UserID: "user_001", RecentMemoryIDs: []int64{mine.ID}, Context: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Predictions)
}

type brokenPatterns struct {
	storage.Store
}

func (brokenPatterns) ListTemporalPatterns(context.Context, *storage.PatternListOptions) ([]*storage.TemporalPattern, error) {
	return nil, storage.ErrUnavailable
}

func TestPredict_StoreFailureAborts(t *testing.T) {
	engine := prediction.NewEngine(brokenPatterns{newStore(t)})
	_, err := engine.Predict(context.Background(), prediction.Request{UserID: "user_001"})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestPredict_RejectsInvalidRequests(t *testing.T) {
	engine := prediction.NewEngine(newStore(t))
	for _, req := range []prediction.Request{
		{},
		{UserID: "user_001", Limit: -1},
		{UserID: "user_001", RecentMemoryIDs: []int64{0}},
	} {
		_, err := engine.Predict(context.Background(), req)
		assert.ErrorIs(t, err, prediction.ErrInvalidRequest)
	}
}

func TestPredict_Limit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	hour := 14
	var listed []int64
	for i := 0; i < 4; i++ {
		listed = append(listed, add(t, store, "m", 0.5).ID)
	}
	require.NoError(t, store.UpsertTemporalPattern(ctx, &storage.TemporalPattern{
		UserID: "user_001", Type: storage.PatternHourly, Confidence: 0.9, OccurrenceCount: 1,
		Data: storage.PatternData{Hour: &hour, MemoryIDs: listed},
	}))
	res, err := prediction.NewEngine(store, prediction.WithNow(clock)).Predict(ctx, prediction.Request{UserID: "user_001", Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, storage.SortedIDs(listed)[:2], []int64{res.Predictions[0].MemoryID, res.Predictions[1].MemoryID})
}
