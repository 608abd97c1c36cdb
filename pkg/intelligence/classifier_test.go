package intelligence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/llm"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

type stubLLM struct {
	answer string
	err    error
	calls  int
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	s.calls++
	return s.answer, s.err
}

func (s *stubLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return s.Generate(ctx, "", opts...)
}

func (s *stubLLM) Close() error { return nil }

func TestLLMClassifier(t *testing.T) {
	tests := []struct {
		answer  string
		want    storage.RelationshipType
		wantErr bool
	}{
		{answer: "caused_by", want: storage.CausedBy},
		{answer: " Contradicts.\n", want: storage.Contradicts},
		{answer: "The notes are similar_to each other", want: storage.SimilarTo},
		{answer: "banana", wantErr: true},
	}
	a := &storage.Memory{Content: "deploy failed"}
	b := &storage.Memory{Content: "missing env var"}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			c := intelligence.NewLLMClassifier(&stubLLM{answer: tt.answer})
			got, err := c.Classify(context.Background(), a, b)
			if tt.wantErr {
				assert.ErrorIs(t, err, intelligence.ErrUnknownRelationship)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiner_ClassifierOverridesAndFallsBack(t *testing.T) {
	ctx := context.Background()

	store := newStore(t)
	coAccessedGroup(t, store, nil, "a", "b", "c", "d", "e")
	model := &stubLLM{answer: "follows"}
	report, err := newMiner(store, intelligence.WithClassifier(intelligence.NewLLMClassifier(model))).
		Analyze(ctx, "user_001", intelligence.AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, report.RelationshipSuggestions, 10)
	assert.Equal(t, 10, model.calls)
	for _, s := range report.RelationshipSuggestions {
		assert.Equal(t, storage.Follows, s.SuggestedType)
	}

	store = newStore(t)
	coAccessedGroup(t, store, nil, "a", "b", "c", "d", "e")
	failing := &stubLLM{err: errors.New("rate limited")}
	report, err = newMiner(store, intelligence.WithClassifier(intelligence.NewLLMClassifier(failing))).
		Analyze(ctx, "user_001", intelligence.AnalyzeOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	for _, s := range report.RelationshipSuggestions {
		assert.Equal(t, storage.RelatedTo, s.SuggestedType)
	}
}
