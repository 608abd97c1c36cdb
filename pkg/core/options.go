package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/llm"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// ClientOption overrides a dependency that NewClient would otherwise build
// from the configuration.
type ClientOption func(*clientOptions)

type clientOptions struct {
	store    storage.Store
	embedder embedder.Provider
	llm      llm.Provider
	logger   *zap.Logger
	now      func() time.Time
}

// WithStore uses an already opened store instead of VectorStore config.
func WithStore(s storage.Store) ClientOption {
	return func(o *clientOptions) {
		o.store = s
	}
}

// WithEmbedder uses the given embedding provider instead of Embedder config.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = p
	}
}

// WithLLM uses the given LLM provider for relationship classification.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.llm = p
	}
}

// WithLogger uses logger instead of building one from Logging config.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithClock replaces time.Now for every component of the client.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

// AddOption is a function type for configuring Add operations.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for Add operations.
type AddOptions struct {
	// UserID identifies the user who owns this memory. Required.
	UserID string

	// AgentID identifies the agent associated with this memory.
	AgentID string

	// Tags labels the memory.
	Tags []string

	// Metadata contains additional metadata about the memory.
	Metadata map[string]interface{}

	// Deduplicate returns an existing memory instead of inserting when its
	// embedding is nearly identical.
	Deduplicate bool

	// DuplicateThreshold overrides the similarity used by Deduplicate.
	DuplicateThreshold float64
}

// WithUserID sets the user ID for Add operations.
//
// Example:
//
//	memory, _ := client.Add(ctx, "content", core.WithUserID("user_001"))
func WithUserID(userID string) AddOption {
	return func(opts *AddOptions) {
		opts.UserID = userID
	}
}

// WithAgentID sets the agent ID for Add operations.
func WithAgentID(agentID string) AddOption {
	return func(opts *AddOptions) {
		opts.AgentID = agentID
	}
}

// WithTags sets the tags of the new memory.
func WithTags(tags ...string) AddOption {
	return func(opts *AddOptions) {
		opts.Tags = append(opts.Tags, tags...)
	}
}

// WithMetadata sets metadata for Add operations.
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		opts.Metadata = metadata
	}
}

// WithDeduplicate enables duplicate detection on Add. A zero threshold uses
// the default of 0.95.
//
// Example:
//
//	memory, _ := client.Add(ctx, "User likes Go",
//	    core.WithUserID("user_001"),
//	    core.WithDeduplicate(0),
//	)
func WithDeduplicate(threshold float64) AddOption {
	return func(opts *AddOptions) {
		opts.Deduplicate = true
		opts.DuplicateThreshold = threshold
	}
}

// GetOption configures Get operations.
type GetOption func(*GetOptions)

// GetOptions contains options for Get operations.
type GetOptions struct {
	// UserID restricts access to memories owned by this user.
	UserID string
}

// WithUserIDForGet sets the owner check for Get.
func WithUserIDForGet(userID string) GetOption {
	return func(opts *GetOptions) {
		opts.UserID = userID
	}
}

// DeleteOption configures Delete operations.
type DeleteOption func(*DeleteOptions)

// DeleteOptions contains options for Delete operations.
type DeleteOptions struct {
	// UserID restricts deletion to memories owned by this user.
	UserID string
}

// WithUserIDForDelete sets the owner check for Delete.
func WithUserIDForDelete(userID string) DeleteOption {
	return func(opts *DeleteOptions) {
		opts.UserID = userID
	}
}

// GetAllOption configures GetAll operations.
type GetAllOption func(*GetAllOptions)

// GetAllOptions contains options for GetAll operations.
type GetAllOptions struct {
	UserID string
	Limit  int
	Offset int
}

// WithUserIDForGetAll sets the owner for GetAll. Required.
func WithUserIDForGetAll(userID string) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.UserID = userID
	}
}

// WithLimitForGetAll caps the number of memories returned.
func WithLimitForGetAll(limit int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips memories for pagination.
func WithOffset(offset int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Offset = offset
	}
}

// SearchOption configures Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains options for Search operations.
type SearchOptions struct {
	// UserID scopes the search to one owner. Required.
	UserID string

	// Limit is the number of results. Zero uses the configured default.
	Limit int

	// MinScore is the minimum base similarity on the semantic path.
	MinScore float64

	// WeightByUsage ranks by the learned weighted score.
	WeightByUsage bool

	// DecayOldMemories boosts recent and penalizes idle memories.
	DecayOldMemories bool

	// MinHelpfulness drops memories below this helpfulness.
	MinHelpfulness float64

	// LearningMode records a usage increment for every result.
	LearningMode bool
}

// WithUserIDForSearch sets the user ID for Search operations.
//
// Example:
//
//	results, _ := client.Search(ctx, "query", core.WithUserIDForSearch("user_001"))
func WithUserIDForSearch(userID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.UserID = userID
	}
}

// WithLimit sets the result count for Search operations.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithMinScore sets the minimum similarity for Search operations.
func WithMinScore(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = score
	}
}

// WithWeightByUsage enables learned weighting of search results.
func WithWeightByUsage(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.WeightByUsage = enabled
	}
}

// WithDecayOldMemories enables the recency boost and age penalty.
func WithDecayOldMemories(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.DecayOldMemories = enabled
	}
}

// WithMinHelpfulness drops results below the given helpfulness.
func WithMinHelpfulness(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinHelpfulness = score
	}
}

// WithLearningMode records usage for every returned memory.
func WithLearningMode(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.LearningMode = enabled
	}
}

// PredictOption configures Predict operations.
type PredictOption func(*PredictOptions)

// PredictOptions contains options for Predict operations.
type PredictOptions struct {
	// Context is free text describing the current task.
	Context string

	// Limit is the number of predictions. Zero uses the configured default.
	Limit int
}

// WithPredictContext adds a free-text context to the prediction.
func WithPredictContext(text string) PredictOption {
	return func(opts *PredictOptions) {
		opts.Context = text
	}
}

// WithPredictLimit sets the number of predictions.
func WithPredictLimit(limit int) PredictOption {
	return func(opts *PredictOptions) {
		opts.Limit = limit
	}
}

// SuggestOption configures Suggest operations.
type SuggestOption func(*SuggestOptions)

// SuggestOptions contains options for Suggest operations.
type SuggestOptions struct {
	MinConfidence    float64
	IncludeReasoning bool
	Limit            int
}

// WithMinConfidence drops suggestions below the given confidence.
func WithMinConfidence(confidence float64) SuggestOption {
	return func(opts *SuggestOptions) {
		opts.MinConfidence = confidence
	}
}

// WithReasoning attaches the scoring breakdown to each suggestion.
func WithReasoning(include bool) SuggestOption {
	return func(opts *SuggestOptions) {
		opts.IncludeReasoning = include
	}
}

// WithSuggestLimit sets the number of suggestions.
func WithSuggestLimit(limit int) SuggestOption {
	return func(opts *SuggestOptions) {
		opts.Limit = limit
	}
}

// FeedbackOption configures Feedback operations.
type FeedbackOption func(*FeedbackOptions)

// FeedbackOptions contains options for Feedback operations.
type FeedbackOptions struct {
	Satisfaction *float64
	Context      string
}

// WithSatisfaction scales the update step by a satisfaction in [0,1].
func WithSatisfaction(satisfaction float64) FeedbackOption {
	return func(opts *FeedbackOptions) {
		opts.Satisfaction = &satisfaction
	}
}

// WithFeedbackContext records where the feedback was given.
func WithFeedbackContext(text string) FeedbackOption {
	return func(opts *FeedbackOptions) {
		opts.Context = text
	}
}

// AnalyzeOption configures Analyze operations.
type AnalyzeOption func(*AnalyzeOptions)

// AnalyzeOptions contains options for Analyze operations.
type AnalyzeOptions struct {
	// AutoApply persists suggestions whose confidence reaches Threshold.
	AutoApply bool

	// Threshold overrides the configured auto-apply threshold.
	Threshold float64
}

// WithAutoApply persists qualifying relationship suggestions. A zero
// threshold uses the configured auto-apply threshold.
func WithAutoApply(threshold float64) AnalyzeOption {
	return func(opts *AnalyzeOptions) {
		opts.AutoApply = true
		opts.Threshold = threshold
	}
}

func applyAddOptions(opts []AddOption) *AddOptions {
	options := &AddOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyGetOptions(opts []GetOption) *GetOptions {
	options := &GetOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyDeleteOptions(opts []DeleteOption) *DeleteOptions {
	options := &DeleteOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyGetAllOptions(opts []GetAllOption) *GetAllOptions {
	options := &GetAllOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyPredictOptions(opts []PredictOption) *PredictOptions {
	options := &PredictOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applySuggestOptions(opts []SuggestOption) *SuggestOptions {
	options := &SuggestOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyFeedbackOptions(opts []FeedbackOption) *FeedbackOptions {
	options := &FeedbackOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applyAnalyzeOptions(opts []AnalyzeOption) *AnalyzeOptions {
	options := &AnalyzeOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
