package core

import (
	"github.com/oceanbase/memlearn-go/pkg/feedback"
	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/prediction"
	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/scheduler"
	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/usage"
)

// Memory is a stored memory with its usage statistics.
type Memory = storage.Memory

// LearningWeights is the per-user ranking weight vector.
type LearningWeights = storage.LearningWeights

// Relationship is a persisted edge between two memories.
type Relationship = storage.Relationship

// SearchResult is the ranked outcome of Search.
type SearchResult = ranking.SearchResult

// ScoredMemory is one search result with its scoring breakdown.
type ScoredMemory = ranking.ScoredMemory

// SuggestResult is the outcome of Suggest.
type SuggestResult = ranking.SuggestResult

// PredictResult is the outcome of Predict.
type PredictResult = prediction.Result

// FeedbackResult reports the state after feedback was applied.
type FeedbackResult = feedback.Result

// AnalysisReport is the outcome of Analyze.
type AnalysisReport = intelligence.Report

// MaintenanceReport is the outcome of MaintenanceSuggestions.
type MaintenanceReport = intelligence.MaintenanceReport

// RelationshipSuggestion is a proposed edge from co-access mining.
type RelationshipSuggestion = intelligence.RelationshipSuggestion

// RelatedMemory is one memory reached by relationship traversal.
type RelatedMemory = intelligence.RelatedMemory

// LearningStatus describes the background learning cycle.
type LearningStatus = scheduler.Status

// UsageStats counts the usage side channel's accepted, dropped and failed tasks.
type UsageStats = usage.Stats
