package intelligence

import (
	"time"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// RelationshipSuggestion is a proposed edge derived from co-access mining.
// It is not persisted until applied.
type RelationshipSuggestion struct {
	MemoryID        int64                    `json:"memory_id"`
	RelatedMemoryID int64                    `json:"related_memory_id"`
	SuggestedType   storage.RelationshipType `json:"suggested_type"`
	Confidence      float64                  `json:"confidence"`
	Reason          string                   `json:"reason"`
	CoAccessCount   int                      `json:"co_access_count"`
}

// Relationship converts the suggestion into an edge owned by userID.
func (s *RelationshipSuggestion) Relationship(userID string) *storage.Relationship {
	return &storage.Relationship{
		UserID:          userID,
		MemoryID:        s.MemoryID,
		RelatedMemoryID: s.RelatedMemoryID,
		Type:            s.SuggestedType,
		Strength:        s.Confidence,
		Explanation:     s.Reason,
	}
}

// DuplicateSuggestion is the recommended action for a duplicate group.
type DuplicateSuggestion string

const (
	SuggestMerge  DuplicateSuggestion = "merge"
	SuggestReview DuplicateSuggestion = "review"
)

// DuplicateGroup is a set of memories whose texts nearly coincide.
type DuplicateGroup struct {
	MemoryIDs  []int64             `json:"memory_ids"`
	Similarity float64             `json:"similarity"`
	Suggestion DuplicateSuggestion `json:"suggestion"`
}

// Report is the result of one analysis pass over a user's memories.
type Report struct {
	UserID                  string                               `json:"user_id"`
	ClustersDetected        int                                  `json:"clusters_detected"`
	Clusters                [][]int64                            `json:"clusters,omitempty"`
	RelationshipSuggestions []RelationshipSuggestion             `json:"relationship_suggestions"`
	StaleMemoryCount        int                                  `json:"stale_memory_count"`
	Patterns                []*storage.TemporalPattern           `json:"patterns,omitempty"`
	Duplicates              []DuplicateGroup                     `json:"duplicates,omitempty"`
	WeightAdjustments       map[storage.RelationshipType]float64 `json:"weight_adjustments,omitempty"`
	Applied                 int                                  `json:"applied"`
	Errors                  map[string]string                    `json:"errors,omitempty"`
	AnalyzedAt              time.Time                            `json:"analyzed_at"`
}

// MemoryRef identifies a memory flagged by the maintenance pass.
type MemoryRef struct {
	MemoryID         int64   `json:"memory_id"`
	Content          string  `json:"content"`
	DaysSinceAccess  float64 `json:"days_since_access"`
	HelpfulnessScore float64 `json:"helpfulness_score"`
	UsageCount       int64   `json:"usage_count"`
}

// MaintenanceReport lists cleanup suggestions for a user.
type MaintenanceReport struct {
	Duplicates          []DuplicateGroup        `json:"duplicates"`
	Outdated            []MemoryRef             `json:"outdated"`
	ArchiveCandidates   []MemoryRef             `json:"archive_candidates"`
	BrokenRelationships int                     `json:"broken_relationships"`
	BrokenEdges         []*storage.Relationship `json:"broken_edges,omitempty"`
}

// RelatedMemory is one node reached by relationship traversal.
type RelatedMemory struct {
	Memory *storage.Memory       `json:"memory"`
	Depth  int                   `json:"depth"`
	Via    *storage.Relationship `json:"via"`
}
