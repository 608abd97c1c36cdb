package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oceanbase/memlearn-go/pkg/llm"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// ErrUnknownRelationship is returned when the model answers with a label
// outside the known relationship types.
var ErrUnknownRelationship = errors.New("unknown relationship type")

// Classifier decides the relationship type of two memories.
type Classifier interface {
	Classify(ctx context.Context, a, b *storage.Memory) (storage.RelationshipType, error)
}

const classifyInstruction = `You classify how two notes from the same user relate.
Answer with exactly one of: related_to, caused_by, similar_to, follows, contradicts.`

const classifyPrompt = "Note A: %s\nNote B: %s"

// LLMClassifier asks a chat model for the relationship type.
type LLMClassifier struct {
	provider llm.Provider
}

// NewLLMClassifier creates a classifier backed by provider.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, a, b *storage.Memory) (storage.RelationshipType, error) {
	answer, err := c.provider.Generate(ctx, fmt.Sprintf(classifyPrompt, a.Content, b.Content),
		llm.WithSystem(classifyInstruction), llm.WithMaxTokens(10))
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return parseClassification(answer)
}

func parseClassification(answer string) (storage.RelationshipType, error) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if line, _, ok := strings.Cut(answer, "\n"); ok {
		answer = line
	}
	answer = strings.Trim(answer, " \t.\"'`*")
	if t, ok := storage.ParseRelationshipType(answer); ok {
		return t, nil
	}
	for _, t := range []storage.RelationshipType{storage.CausedBy, storage.Contradicts, storage.Follows, storage.SimilarTo, storage.RelatedTo} {
		if strings.Contains(answer, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRelationship, answer)
}
