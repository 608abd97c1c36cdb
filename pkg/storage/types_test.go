package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

func TestAccessPattern_Normalize(t *testing.T) {
	p := storage.AccessPattern{
		CoAccessedWith: []int64{3, 7, 3, 1, 7, 0},
		Contexts:       map[string]int{"neg": -2},
	}
	p.Normalize(1)

	assert.Equal(t, []int64{3, 7}, p.CoAccessedWith)
	assert.Equal(t, 0, p.Contexts["neg"])
	assert.NotNil(t, p.FeedbackContexts)
	assert.NotNil(t, p.AccessTimestamps)
}

func TestAccessPattern_AddCoAccess(t *testing.T) {
	var p storage.AccessPattern
	assert.True(t, p.AddCoAccess(5))
	assert.False(t, p.AddCoAccess(5))
	assert.True(t, p.AddCoAccess(2))
	assert.Equal(t, []int64{5, 2}, p.CoAccessedWith)
}

func TestAccessPattern_RecordAccess(t *testing.T) {
	var p storage.AccessPattern
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	p.RecordAccess(at, "search_result")
	p.RecordAccess(at.Add(time.Minute), "")

	assert.Len(t, p.AccessTimestamps, 2)
	assert.Equal(t, map[string]int{"search_result": 1}, p.Contexts)
}

func TestTemporalPattern_Signature(t *testing.T) {
	hour, day := 14, 3
	assert.Equal(t, "hour=14", (&storage.TemporalPattern{Type: storage.PatternHourly, Data: storage.PatternData{Hour: &hour}}).Signature())
	assert.Equal(t, "weekday=3", (&storage.TemporalPattern{Type: storage.PatternDaily, Data: storage.PatternData{Weekday: &day}}).Signature())
	assert.Equal(t, "seq=1,2,3", (&storage.TemporalPattern{Type: storage.PatternSequence, Data: storage.PatternData{Sequence: []int64{1, 2, 3}}}).Signature())
}

func TestTemporalPattern_Merge(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &storage.TemporalPattern{
		Confidence:      0.3,
		OccurrenceCount: 1,
		FirstSeen:       first,
		LastSeen:        first,
		Data:            storage.PatternData{MemoryIDs: []int64{1}},
	}
	existing.Merge(&storage.TemporalPattern{
		Confidence: 0.6,
		LastSeen:   first.Add(48 * time.Hour),
		Data:       storage.PatternData{MemoryIDs: []int64{1, 2}},
	})

	assert.Equal(t, 2, existing.OccurrenceCount)
	assert.Equal(t, 0.6, existing.Confidence)
	assert.Equal(t, []int64{1, 2}, existing.Data.MemoryIDs)
	assert.Equal(t, first.Add(48*time.Hour), existing.LastSeen)

	existing.Merge(&storage.TemporalPattern{Confidence: 0.5, LastSeen: first.Add(-time.Hour)})
	assert.Equal(t, first.Add(48*time.Hour), existing.LastSeen)
}

func TestTemporalPattern_Validate(t *testing.T) {
	valid := &storage.TemporalPattern{UserID: "u", Type: storage.PatternDaily, Confidence: 0.5}
	require.NoError(t, valid.Validate())

	assert.Error(t, (&storage.TemporalPattern{Type: storage.PatternDaily}).Validate())
	assert.Error(t, (&storage.TemporalPattern{UserID: "u", Type: "weekly"}).Validate())
	assert.Error(t, (&storage.TemporalPattern{UserID: "u", Type: storage.PatternHourly, Confidence: 1.2}).Validate())
}

func TestParseRelationshipType(t *testing.T) {
	typ, ok := storage.ParseRelationshipType(" Caused_By ")
	assert.True(t, ok)
	assert.Equal(t, storage.CausedBy, typ)

	_, ok = storage.ParseRelationshipType("friend_of")
	assert.False(t, ok)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, storage.NewPairKey(9, 4), storage.NewPairKey(4, 9))
	assert.Equal(t, int64(4), storage.NewPairKey(9, 4).Low)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, storage.CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, storage.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestRankCandidates(t *testing.T) {
	memories := []*storage.Memory{
		{ID: 1, Embedding: []float64{0, 1}},
		{ID: 2, Embedding: []float64{1, 0}},
		{ID: 3},
		{ID: 4, Embedding: []float64{1, 0}},
	}
	got := storage.RankCandidates([]float64{1, 0}, memories, 0.5, 0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Memory.ID)
	assert.Equal(t, int64(4), got[1].Memory.ID)

	limited := storage.RankCandidates([]float64{1, 0}, memories, 0, 1)
	assert.Len(t, limited, 1)
}
