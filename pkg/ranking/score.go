package ranking

import (
	"math"

	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

const (
	recentDays   = 7
	oldDays      = 90
	recencyBoost = 1.2
	agePenalty   = 0.7
)

// ScoredMemory is a memory with the signals that produced its score.
type ScoredMemory struct {
	Memory           *storage.Memory `json:"memory"`
	BaseSimilarity   float64         `json:"base_similarity"`
	WeightedScore    float64         `json:"weighted_score"`
	UsageScore       float64         `json:"usage_score"`
	RecencyScore     float64         `json:"recency_score"`
	DaysSinceAccess  float64         `json:"days_since_access"`
	BoostedByRecency bool            `json:"boosted_by_recency,omitempty"`
	PenalizedByAge   bool            `json:"penalized_by_age,omitempty"`
}

// UsageScore maps a usage count onto [0,1] logarithmically, saturating at
// about 99 uses.
func UsageScore(usageCount int64) float64 {
	if usageCount < 0 {
		usageCount = 0
	}
	return math.Min(math.Log(float64(usageCount)+1)/math.Log(100), 1.0)
}

// WeightedScore combines the ranking signals with the user's weights.
func WeightedScore(similarity float64, a intelligence.Analytics, w *storage.LearningWeights) float64 {
	return similarity*similarityWeight +
		UsageScore(a.UsageCount)*w.UsageWeight +
		a.RecencyScore*w.RecencyWeight +
		a.HelpfulnessScore*w.HelpfulnessWeight
}

// applyDecay boosts memories used in the last week and penalizes those idle
// for a quarter.
func applyDecay(s *ScoredMemory) {
	switch {
	case s.DaysSinceAccess <= recentDays:
		s.WeightedScore *= recencyBoost
		s.BoostedByRecency = true
	case s.DaysSinceAccess >= oldDays:
		s.WeightedScore *= agePenalty
		s.PenalizedByAge = true
	}
}
