package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/cache"
	"github.com/oceanbase/memlearn-go/pkg/embedder"
	"github.com/oceanbase/memlearn-go/pkg/feedback"
	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/llm"
	"github.com/oceanbase/memlearn-go/pkg/logging"
	"github.com/oceanbase/memlearn-go/pkg/prediction"
	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/scheduler"
	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/storage/memstore"
	"github.com/oceanbase/memlearn-go/pkg/usage"
)

// closeTimeout bounds how long Close waits for queued usage writes and a
// running learning cycle.
const closeTimeout = 10 * time.Second

// Client is the memlearn client.
//
// It stores memories and learns from how they are used:
//   - Search ranks candidates by similarity and learned per-user weights
//   - Predict anticipates the next memories from co-access, edges and patterns
//   - Suggest proposes memories for a free-text context
//   - Feedback adapts helpfulness and the user's weights
//   - Analyze and the background scheduler mine patterns and relationships
//
// The client is safe for concurrent use.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	memory, _ := client.Add(ctx, "User prefers dark mode",
//	    core.WithUserID("user_001"),
//	)
//	results, _ := client.Search(ctx, "ui preferences",
//	    core.WithUserIDForSearch("user_001"),
//	    core.WithWeightByUsage(true),
//	)
type Client struct {
	config   *Config
	learning LearningConfig

	store    storage.Store
	embedder embedder.Provider
	llm      llm.Provider
	logger   *zap.Logger
	now      func() time.Time

	snowflakeNode *snowflake.Node

	analyzer   *intelligence.Analyzer
	miner      *intelligence.Miner
	ranking    *ranking.Engine
	prediction *prediction.Engine
	feedback   *feedback.Adapter
	tracker    *usage.Tracker
	weights    *cache.Weights
	scheduler  *scheduler.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new memlearn client.
//
// The client is initialized with:
//   - Store (SQLite, PostgreSQL, OceanBase or in-memory)
//   - Embedding provider (optional)
//   - LLM provider for relationship classification (optional)
//   - Ranking, prediction and feedback engines sharing a weights cache
//   - A bounded usage side channel and the learning scheduler
//
// Options override dependencies that would otherwise be built from cfg.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, NewMemoryError("NewClient", ErrInvalidConfig)
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	c := &Client{
		config:   cfg,
		learning: cfg.Learning.withDefaults(),
		now:      o.now,
	}
	if c.now == nil {
		c.now = time.Now
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
	}
	c.logger = logger.Named("memlearn")

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}
	c.snowflakeNode = node

	c.embedder = o.embedder
	if c.embedder == nil {
		c.embedder, err = initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
	}

	c.llm = o.llm
	if c.llm == nil && cfg.LLM != nil {
		c.llm, err = initLLM(*cfg.LLM)
		if err != nil {
			c.closeProviders()
			return nil, NewMemoryError("NewClient", err)
		}
	}

	c.store = o.store
	if c.store == nil {
		var memOpts []memstore.Option
		if o.now != nil {
			memOpts = append(memOpts, memstore.WithClock(o.now))
		}
		c.store, err = initStorage(cfg.VectorStore, cfg.Embedder.Dimensions, memOpts...)
		if err != nil {
			c.closeProviders()
			return nil, NewMemoryError("NewClient", err)
		}
	}

	if err := c.wire(); err != nil {
		c.closeProviders()
		_ = c.store.Close()
		return nil, NewMemoryError("NewClient", err)
	}

	if c.learning.SchedulerEnabled {
		if err := c.scheduler.Start(); err != nil {
			_ = c.Close()
			return nil, NewMemoryError("NewClient", err)
		}
	}
	return c, nil
}

// wire builds the learning components on top of store and providers.
func (c *Client) wire() error {
	l := c.learning

	weights, err := cache.NewWeights(c.store, 0, l.WeightsCacheTTL)
	if err != nil {
		return err
	}
	c.weights = weights

	c.tracker = usage.New(c.store,
		usage.WithQueueSize(l.UsageQueueSize),
		usage.WithWorkers(l.UsageWorkers),
		usage.WithLogger(c.logger.Named("usage")),
	)

	c.analyzer = intelligence.NewAnalyzer(intelligence.WithAnalyzerClock(c.now))

	minerOpts := []intelligence.MinerOption{
		intelligence.WithMinerConfig(intelligence.MinerConfig{
			MinBucketMemories:  l.MinBucketMemories,
			MinSequenceCount:   l.MinSequenceCount,
			MinCoAccessCount:   l.MinCoAccessCount,
			DuplicateWindow:    l.DuplicateWindow,
			DuplicateThreshold: l.DuplicateThreshold,
			MergeThreshold:     l.MergeThreshold,
			AutoApplyThreshold: l.AutoApplyThreshold,
			StaleAfterDays:     l.StaleAfterDays,
		}),
		intelligence.WithAnalyzer(c.analyzer),
		intelligence.WithMinerLogger(c.logger.Named("miner")),
	}
	if c.llm != nil {
		minerOpts = append(minerOpts, intelligence.WithClassifier(intelligence.NewLLMClassifier(c.llm)))
	}
	c.miner = intelligence.NewMiner(c.store, minerOpts...)

	c.ranking = ranking.NewEngine(c.store,
		ranking.WithEmbedder(c.embedder),
		ranking.WithWeights(c.weights),
		ranking.WithUsage(c.tracker),
		ranking.WithAnalyzer(c.analyzer),
		ranking.WithNow(c.now),
		ranking.WithLogger(c.logger.Named("ranking")),
		ranking.WithOverfetch(l.OverfetchFactor),
	)

	c.prediction = prediction.NewEngine(c.store,
		prediction.WithEmbedder(c.embedder),
		prediction.WithCoAccess(c.tracker),
		prediction.WithLogger(c.logger.Named("prediction")),
		prediction.WithNow(c.now),
		prediction.WithContextSearch(l.ContextThreshold, l.ContextCandidates),
	)

	c.feedback = feedback.NewAdapter(c.store,
		feedback.WithCache(c.weights),
		feedback.WithLogger(c.logger.Named("feedback")),
		feedback.WithNow(c.now),
	)

	c.scheduler, err = scheduler.New(c.miner,
		scheduler.WithInterval(l.SchedulerInterval),
		scheduler.WithLogger(c.logger.Named("scheduler")),
		scheduler.WithClock(c.now),
	)
	return err
}

// Add ingests a new memory.
//
// The content is embedded when an embedder is configured; an embedding
// failure stores the memory without a vector, and it is then reachable
// through text search only. New memories start with helpfulness 0.5 and no
// usage.
//
// Example:
//
//	memory, err := client.Add(ctx, "Deploy with blue-green on Fridays",
//	    core.WithUserID("user_001"),
//	    core.WithTags("ops", "deploy"),
//	)
func (c *Client) Add(ctx context.Context, content string, opts ...AddOption) (*Memory, error) {
	options := applyAddOptions(opts)
	if options.UserID == "" {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if strings.TrimSpace(content) == "" {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: content is required", ErrInvalidInput))
	}

	vec, _ := embedder.TryEmbed(ctx, c.embedder, content, c.logger)

	if options.Deduplicate && len(vec) > 0 {
		existing, err := intelligence.CheckDuplicate(ctx, c.store, vec, options.UserID, options.DuplicateThreshold)
		if err != nil {
			return nil, NewMemoryError("Add", err)
		}
		if existing != nil {
			c.logger.Debug("duplicate memory, returning existing",
				zap.String("user_id", options.UserID),
				zap.Int64("memory_id", existing.ID),
			)
			return existing, nil
		}
	}

	now := c.now()
	memory := &Memory{
		ID:               c.snowflakeNode.Generate().Int64(),
		UserID:           options.UserID,
		AgentID:          options.AgentID,
		Content:          content,
		Tags:             options.Tags,
		Embedding:        vec,
		HelpfulnessScore: storage.DefaultHelpfulness,
		Metadata:         options.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.store.InsertMemory(ctx, memory); err != nil {
		return nil, NewMemoryError("Add", err)
	}
	return memory, nil
}

// Get retrieves a memory by ID. Reads through Get are not counted as usage;
// use TrackAccess for that.
func (c *Client) Get(ctx context.Context, id int64, opts ...GetOption) (*Memory, error) {
	if id == 0 {
		return nil, NewMemoryError("Get", fmt.Errorf("%w: memory id is required", ErrInvalidInput))
	}
	options := applyGetOptions(opts)
	memory, err := c.store.GetMemory(ctx, id, &storage.GetOptions{UserID: options.UserID})
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return memory, nil
}

// GetAll lists a user's memories, most recently active first.
func (c *Client) GetAll(ctx context.Context, opts ...GetAllOption) ([]*Memory, error) {
	options := applyGetAllOptions(opts)
	if options.UserID == "" {
		return nil, NewMemoryError("GetAll", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if options.Limit < 0 || options.Offset < 0 {
		return nil, NewMemoryError("GetAll", fmt.Errorf("%w: negative limit or offset", ErrInvalidInput))
	}
	memories, err := c.store.ListMemories(ctx, &storage.ListOptions{
		UserID: options.UserID,
		Limit:  options.Limit,
		Offset: options.Offset,
	})
	if err != nil {
		return nil, NewMemoryError("GetAll", err)
	}
	return memories, nil
}

// Delete deletes a memory and its access pattern.
func (c *Client) Delete(ctx context.Context, id int64, opts ...DeleteOption) error {
	if id == 0 {
		return NewMemoryError("Delete", fmt.Errorf("%w: memory id is required", ErrInvalidInput))
	}
	options := applyDeleteOptions(opts)
	return NewMemoryError("Delete", c.store.DeleteMemory(ctx, id, &storage.DeleteOptions{UserID: options.UserID}))
}

// Search retrieves and ranks a user's memories for a query.
//
// Without WithWeightByUsage the order is the base similarity; with it the
// learned per-user weights combine similarity, usage, recency and
// helpfulness. An embedding failure falls back to text matching and is
// reported through SearchResult.SearchMethod.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResult, error) {
	options := applySearchOptions(opts)
	limit := options.Limit
	if limit == 0 {
		limit = c.learning.DefaultLimit
	}
	result, err := c.ranking.Search(ctx, ranking.SearchRequest{
		UserID:           options.UserID,
		Query:            query,
		Limit:            limit,
		Threshold:        options.MinScore,
		WeightByUsage:    options.WeightByUsage,
		DecayOldMemories: options.DecayOldMemories,
		MinHelpfulness:   options.MinHelpfulness,
		LearningMode:     options.LearningMode,
	})
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}
	return result, nil
}

// Predict anticipates the memories a user needs next from the recently used
// ids, the relationship graph, temporal patterns and an optional context.
// More than one recent id is recorded as a co-access episode.
func (c *Client) Predict(ctx context.Context, userID string, recentMemoryIDs []int64, opts ...PredictOption) (*PredictResult, error) {
	options := applyPredictOptions(opts)
	limit := options.Limit
	if limit == 0 {
		limit = c.learning.DefaultLimit
	}
	result, err := c.prediction.Predict(ctx, prediction.Request{
		UserID:          userID,
		RecentMemoryIDs: recentMemoryIDs,
		Context:         options.Context,
		Limit:           limit,
	})
	if err != nil {
		return nil, NewMemoryError("Predict", err)
	}
	return result, nil
}

// Suggest proposes memories relevant to a free-text context. Every returned
// memory is recorded as used in a context suggestion.
func (c *Client) Suggest(ctx context.Context, userID, contextText string, opts ...SuggestOption) (*SuggestResult, error) {
	options := applySuggestOptions(opts)
	limit := options.Limit
	if limit == 0 {
		limit = c.learning.DefaultLimit
	}
	result, err := c.ranking.Suggest(ctx, ranking.SuggestRequest{
		UserID:           userID,
		Context:          contextText,
		MinConfidence:    options.MinConfidence,
		IncludeReasoning: options.IncludeReasoning,
		Limit:            limit,
	})
	if err != nil {
		return nil, NewMemoryError("Suggest", err)
	}
	return result, nil
}

// Feedback records whether a memory helped. It moves the memory's
// helpfulness and the owner's learning weights; the cached weights are
// refreshed so the next Search sees them.
func (c *Client) Feedback(ctx context.Context, userID string, memoryID int64, helpful bool, opts ...FeedbackOption) (*FeedbackResult, error) {
	if userID == "" {
		return nil, NewMemoryError("Feedback", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	options := applyFeedbackOptions(opts)
	result, err := c.feedback.Apply(ctx, feedback.Request{
		MemoryID:     memoryID,
		UserID:       userID,
		Helpful:      helpful,
		Satisfaction: options.Satisfaction,
		Context:      options.Context,
	})
	if err != nil {
		return nil, NewMemoryError("Feedback", err)
	}
	return result, nil
}

// Analyze runs one mining pass over a user's memories. A failing sub-task
// is reported in AnalysisReport.Errors and does not fail the pass.
func (c *Client) Analyze(ctx context.Context, userID string, opts ...AnalyzeOption) (*AnalysisReport, error) {
	options := applyAnalyzeOptions(opts)
	report, err := c.miner.Analyze(ctx, userID, intelligence.AnalyzeOptions{
		AutoApply: options.AutoApply,
		Threshold: options.Threshold,
	})
	if err != nil {
		return nil, NewMemoryError("Analyze", err)
	}
	return report, nil
}

// MaintenanceSuggestions lists a user's outdated memories, archive
// candidates, duplicate groups and broken relationships. Nothing is changed.
func (c *Client) MaintenanceSuggestions(ctx context.Context, userID string) (*MaintenanceReport, error) {
	report, err := c.miner.Maintenance(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("MaintenanceSuggestions", err)
	}
	return report, nil
}

// ApplySuggestion persists one relationship suggestion. It reports false
// when an edge already joins the two memories.
func (c *Client) ApplySuggestion(ctx context.Context, userID string, suggestion RelationshipSuggestion) (bool, error) {
	if userID == "" {
		return false, NewMemoryError("ApplySuggestion", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if suggestion.MemoryID == 0 || suggestion.RelatedMemoryID == 0 || suggestion.MemoryID == suggestion.RelatedMemoryID {
		return false, NewMemoryError("ApplySuggestion", fmt.Errorf("%w: suggestion needs two distinct memories", ErrInvalidInput))
	}
	if suggestion.Confidence < 0 || suggestion.Confidence > 1 {
		return false, NewMemoryError("ApplySuggestion", fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidInput, suggestion.Confidence))
	}
	if _, ok := storage.ParseRelationshipType(string(suggestion.SuggestedType)); !ok {
		return false, NewMemoryError("ApplySuggestion", fmt.Errorf("%w: unknown relationship type %q", ErrInvalidInput, suggestion.SuggestedType))
	}
	if err := c.checkOwned(ctx, userID, suggestion.MemoryID, suggestion.RelatedMemoryID); err != nil {
		return false, NewMemoryError("ApplySuggestion", err)
	}
	created, err := c.store.CreateRelationship(ctx, suggestion.Relationship(userID))
	if err != nil {
		return false, NewMemoryError("ApplySuggestion", err)
	}
	return created, nil
}

// Related returns the memories reachable from memoryID through the user's
// relationship edges within depth hops (at most 3).
func (c *Client) Related(ctx context.Context, userID string, memoryID int64, depth int) ([]RelatedMemory, error) {
	if userID == "" {
		return nil, NewMemoryError("Related", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if memoryID != 0 {
		if err := c.checkOwned(ctx, userID, memoryID); err != nil {
			return nil, NewMemoryError("Related", err)
		}
	}
	related, err := intelligence.Related(ctx, c.store, userID, memoryID, depth)
	if err != nil {
		return nil, NewMemoryError("Related", err)
	}
	return related, nil
}

// TrackAccess records that the given memories were used together. Each one
// gets a usage increment under usageContext, and two or more are linked as
// co-accessed. The writes go through the bounded side channel; a full queue
// drops them and is logged, never returned.
func (c *Client) TrackAccess(ctx context.Context, userID string, ids []int64, usageContext string) error {
	if userID == "" {
		return NewMemoryError("TrackAccess", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if len(ids) == 0 {
		return NewMemoryError("TrackAccess", fmt.Errorf("%w: no memory ids", ErrInvalidInput))
	}
	if err := c.checkOwned(ctx, userID, ids...); err != nil {
		return NewMemoryError("TrackAccess", err)
	}
	c.tracker.Increment(ids, usageContext)
	if len(ids) > 1 {
		c.tracker.CoAccess(ids)
	}
	return nil
}

// TriggerLearning runs one learning cycle now and waits for it. It returns
// ErrCycleInProgress when a cycle is already running.
func (c *Client) TriggerLearning(ctx context.Context) error {
	return NewMemoryError("TriggerLearning", c.scheduler.Trigger(ctx))
}

// LearningStatus reports the state of the background learning cycle.
func (c *Client) LearningStatus() LearningStatus {
	return c.scheduler.Status()
}

// UsageStats reports the counters of the usage side channel.
func (c *Client) UsageStats() UsageStats {
	return c.tracker.Stats()
}

// Close stops the scheduler, drains the usage side channel and closes the
// store and providers. Subsequent calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var errs []error
		if err := c.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
		if err := c.tracker.Close(ctx); err != nil && !errors.Is(err, usage.ErrClosed) {
			errs = append(errs, fmt.Errorf("close usage tracker: %w", err))
		}
		c.weights.Close()
		errs = append(errs, c.closeProviders())
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		_ = c.logger.Sync()
		c.closeErr = NewMemoryError("Close", errors.Join(errs...))
	})
	return c.closeErr
}

func (c *Client) closeProviders() error {
	var errs []error
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close llm: %w", err))
		}
	}
	return errors.Join(errs...)
}

// checkOwned fails with storage.ErrNotFound unless every id names a memory
// owned by userID.
func (c *Client) checkOwned(ctx context.Context, userID string, ids ...int64) error {
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: zero memory id", ErrInvalidInput)
		}
	}
	memories, err := c.store.GetMemories(ctx, ids)
	if err != nil {
		return err
	}
	owned := make(map[int64]struct{}, len(memories))
	for _, m := range memories {
		if m.UserID == userID {
			owned[m.ID] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			return fmt.Errorf("memory %d: %w", id, storage.ErrNotFound)
		}
	}
	return nil
}
