package intelligence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Sub-task names reported in Report.Errors.
const (
	StepHourly            = "hourly"
	StepDaily             = "daily"
	StepSequence          = "sequence"
	StepCoAccess          = "co_access"
	StepSuggestions       = "suggestions"
	StepClusters          = "clusters"
	StepDuplicates        = "duplicates"
	StepWeightAdjustments = "weight_adjustments"
	StepAutoApply         = "auto_apply"
)

// ErrInvalidArgument is returned for malformed analysis requests.
var ErrInvalidArgument = errors.New("invalid argument")

// MinerConfig holds the mining thresholds.
type MinerConfig struct {
	// MinBucketMemories is the number of distinct memories an hour or weekday
	// bucket needs before it becomes a pattern.
	MinBucketMemories int

	// MinSequenceCount is the number of occurrences a sequence key needs.
	MinSequenceCount int

	// MinCoAccessCount is the co-access count a pair needs to qualify.
	MinCoAccessCount int

	// MaxCoAccessFanout caps the co-access list considered per memory.
	MaxCoAccessFanout int

	// DuplicateWindow is how many of the most recently active memories are
	// compared for duplicates.
	DuplicateWindow int

	// DuplicateThreshold is the text similarity that groups two memories.
	DuplicateThreshold float64

	// MergeThreshold is the Jaccard index above which a group is a merge
	// rather than a review.
	MergeThreshold float64

	// AutoApplyThreshold is the default confidence needed to persist a
	// suggestion automatically.
	AutoApplyThreshold float64

	// StaleAfterDays is the inactivity after which a memory counts as stale.
	StaleAfterDays float64
}

// DefaultMinerConfig returns the default thresholds.
func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		MinBucketMemories:  3,
		MinSequenceCount:   5,
		MinCoAccessCount:   5,
		MaxCoAccessFanout:  50,
		DuplicateWindow:    500,
		DuplicateThreshold: 0.85,
		MergeThreshold:     0.95,
		AutoApplyThreshold: 0.75,
		StaleAfterDays:     90,
	}
}

func (c MinerConfig) withDefaults() MinerConfig {
	d := DefaultMinerConfig()
	if c.MinBucketMemories <= 0 {
		c.MinBucketMemories = d.MinBucketMemories
	}
	if c.MinSequenceCount <= 0 {
		c.MinSequenceCount = d.MinSequenceCount
	}
	if c.MinCoAccessCount <= 0 {
		c.MinCoAccessCount = d.MinCoAccessCount
	}
	if c.MaxCoAccessFanout <= 0 {
		c.MaxCoAccessFanout = d.MaxCoAccessFanout
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = d.DuplicateWindow
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		c.DuplicateThreshold = d.DuplicateThreshold
	}
	if c.MergeThreshold <= 0 || c.MergeThreshold > 1 {
		c.MergeThreshold = d.MergeThreshold
	}
	if c.AutoApplyThreshold <= 0 || c.AutoApplyThreshold > 1 {
		c.AutoApplyThreshold = d.AutoApplyThreshold
	}
	if c.StaleAfterDays <= 0 {
		c.StaleAfterDays = d.StaleAfterDays
	}
	return c
}

// AnalyzeOptions controls one analysis pass.
type AnalyzeOptions struct {
	// AutoApply persists suggestions whose confidence reaches Threshold.
	AutoApply bool

	// Threshold overrides MinerConfig.AutoApplyThreshold when non-zero.
	Threshold float64
}

// Miner discovers temporal patterns, relationship suggestions and duplicates
// from the usage history recorded in the store.
type Miner struct {
	store      storage.Store
	analyzer   *Analyzer
	classifier Classifier
	logger     *zap.Logger
	cfg        MinerConfig
}

// MinerOption configures a Miner.
type MinerOption func(*Miner)

// WithMinerConfig overrides the mining thresholds. Zero fields keep their
// defaults.
func WithMinerConfig(cfg MinerConfig) MinerOption {
	return func(m *Miner) {
		m.cfg = cfg.withDefaults()
	}
}

// WithClassifier sets the relationship classifier consulted for each
// qualifying pair.
func WithClassifier(c Classifier) MinerOption {
	return func(m *Miner) {
		m.classifier = c
	}
}

// WithMinerLogger sets the logger.
func WithMinerLogger(logger *zap.Logger) MinerOption {
	return func(m *Miner) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAnalyzer sets the analyzer, and with it the clock.
func WithAnalyzer(a *Analyzer) MinerOption {
	return func(m *Miner) {
		if a != nil {
			m.analyzer = a
		}
	}
}

// NewMiner creates a Miner over store.
func NewMiner(store storage.Store, opts ...MinerOption) *Miner {
	m := &Miner{
		store:    store,
		analyzer: NewAnalyzer(),
		logger:   zap.NewNop(),
		cfg:      DefaultMinerConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective thresholds.
func (m *Miner) Config() MinerConfig {
	return m.cfg
}

// Analyze runs every mining sub-task for one user.
//
// Sub-tasks are isolated: a failure is recorded under its name in
// Report.Errors and the remaining sub-tasks still run. Only a failure to load
// the user's memories fails the call.
func (m *Miner) Analyze(ctx context.Context, userID string, opts AnalyzeOptions) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("analyze: %w: empty user id", ErrInvalidArgument)
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = m.cfg.AutoApplyThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("analyze: %w: threshold %v outside [0,1]", ErrInvalidArgument, threshold)
	}

	memories, err := m.store.ListMemories(ctx, &storage.ListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	report := &Report{
		UserID:                  userID,
		RelationshipSuggestions: []RelationshipSuggestion{},
		Errors:                  make(map[string]string),
		AnalyzedAt:              m.analyzer.Now(),
	}
	byID := make(map[int64]*storage.Memory, len(memories))
	for _, mem := range memories {
		byID[mem.ID] = mem
	}

	m.runStep(report, StepHourly, func() error {
		return m.persistPatterns(ctx, report, m.DetectBuckets(userID, memories, storage.PatternHourly))
	})
	m.runStep(report, StepDaily, func() error {
		return m.persistPatterns(ctx, report, m.DetectBuckets(userID, memories, storage.PatternDaily))
	})
	m.runStep(report, StepSequence, func() error {
		return m.persistPatterns(ctx, report, m.DetectSequences(userID, memories))
	})

	var counts map[storage.PairKey]int
	m.runStep(report, StepCoAccess, func() error {
		counts = CoAccessCounts(memories, m.cfg.MaxCoAccessFanout)
		return nil
	})
	m.runStep(report, StepSuggestions, func() error {
		if counts == nil {
			return errors.New("co-access counts unavailable")
		}
		suggestions, err := m.Suggest(ctx, userID, byID, counts)
		report.RelationshipSuggestions = append(report.RelationshipSuggestions, suggestions...)
		return err
	})
	m.runStep(report, StepClusters, func() error {
		if counts == nil {
			return errors.New("co-access counts unavailable")
		}
		report.Clusters = Clusters(counts, m.cfg.MinCoAccessCount)
		report.ClustersDetected = len(report.Clusters)
		return nil
	})
	m.runStep(report, StepDuplicates, func() error {
		report.Duplicates = DetectDuplicates(memories, m.cfg)
		return nil
	})
	m.runStep(report, StepWeightAdjustments, func() error {
		adj, err := m.WeightAdjustments(ctx, userID, byID)
		report.WeightAdjustments = adj
		return err
	})

	for _, mem := range memories {
		if m.analyzer.DaysSinceAccess(mem) >= m.cfg.StaleAfterDays {
			report.StaleMemoryCount++
		}
	}

	if opts.AutoApply {
		m.runStep(report, StepAutoApply, func() error {
			n, err := m.Apply(ctx, userID, report.RelationshipSuggestions, threshold)
			report.Applied = n
			return err
		})
	}

	m.logger.Debug("analysis finished",
		zap.String("user_id", userID),
		zap.Int("memories", len(memories)),
		zap.Int("patterns", len(report.Patterns)),
		zap.Int("suggestions", len(report.RelationshipSuggestions)),
		zap.Int("applied", report.Applied),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// RunCycle analyzes every owner in the store with auto-apply enabled. Owner
// failures are logged and joined into the returned error; the remaining owners
// are still processed.
func (m *Miner) RunCycle(ctx context.Context) error {
	owners, err := m.store.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	var errs []error
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := m.Analyze(ctx, owner, AnalyzeOptions{AutoApply: true})
		if err != nil {
			m.logger.Error("analysis failed", zap.String("user_id", owner), zap.Error(err))
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
			continue
		}
		m.logger.Info("analysis applied",
			zap.String("user_id", owner),
			zap.Int("patterns", len(report.Patterns)),
			zap.Int("applied", report.Applied))
	}
	return errors.Join(errs...)
}

func (m *Miner) runStep(report *Report, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			report.Errors[name] = fmt.Sprintf("panic: %v", r)
			m.logger.Error("mining sub-task panicked",
				zap.String("task", name),
				zap.String("user_id", report.UserID),
				zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		report.Errors[name] = err.Error()
		m.logger.Warn("mining sub-task failed",
			zap.String("task", name),
			zap.String("user_id", report.UserID),
			zap.Error(err))
	}
}

func (m *Miner) persistPatterns(ctx context.Context, report *Report, patterns []*storage.TemporalPattern) error {
	var errs []error
	for _, p := range patterns {
		if err := m.store.UpsertTemporalPattern(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", p.Signature(), err))
			continue
		}
		report.Patterns = append(report.Patterns, p)
	}
	return errors.Join(errs...)
}

type bucket struct {
	ids         map[int64]struct{}
	first, last time.Time
}

// DetectBuckets groups access times by hour of day or weekday, in the
// location of the analyzer's clock, and emits a pattern for every bucket
// touched by at least MinBucketMemories distinct memories.
func (m *Miner) DetectBuckets(userID string, memories []*storage.Memory, kind storage.PatternType) []*storage.TemporalPattern {
	now := m.analyzer.Now()
	loc := now.Location()
	divisor := 10.0
	if kind == storage.PatternDaily {
		divisor = 15.0
	}

	buckets := make(map[int]*bucket)
	for _, mem := range memories {
		times := mem.AccessPattern.AccessTimestamps
		if mem.LastAccessedAt != nil {
			times = append(append([]time.Time(nil), times...), *mem.LastAccessedAt)
		}
		for _, t := range times {
			lt := t.In(loc)
			key := lt.Hour()
			if kind == storage.PatternDaily {
				key = int(lt.Weekday())
			}
			b, ok := buckets[key]
			if !ok {
				b = &bucket{ids: make(map[int64]struct{}), first: t, last: t}
				buckets[key] = b
			}
			b.ids[mem.ID] = struct{}{}
			if t.Before(b.first) {
				b.first = t
			}
			if t.After(b.last) {
				b.last = t
			}
		}
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var patterns []*storage.TemporalPattern
	for _, k := range keys {
		b := buckets[k]
		n := len(b.ids)
		if n < m.cfg.MinBucketMemories {
			continue
		}
		ids := make([]int64, 0, n)
		for id := range b.ids {
			ids = append(ids, id)
		}
		key := k
		p := &storage.TemporalPattern{
			UserID:          userID,
			Type:            kind,
			Data:            storage.PatternData{MemoryIDs: storage.SortedIDs(ids)},
			Confidence:      math.Min(float64(n)/divisor, 0.95),
			OccurrenceCount: 1,
			FirstSeen:       b.first,
			LastSeen:        b.last,
		}
		if kind == storage.PatternDaily {
			p.Data.Weekday = &key
		} else {
			p.Data.Hour = &key
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// DetectSequences keys every memory with co-access history by the sorted set
// of itself and its first two co-accessed ids, and emits a pattern for every
// key seen at least MinSequenceCount times.
func (m *Miner) DetectSequences(userID string, memories []*storage.Memory) []*storage.TemporalPattern {
	counts := make(map[string]int)
	members := make(map[string][]int64)
	for _, mem := range memories {
		co := mem.AccessPattern.CoAccessedWith
		if len(co) == 0 {
			continue
		}
		if len(co) > 2 {
			co = co[:2]
		}
		ids := storage.SortedIDs(append([]int64{mem.ID}, co...))
		key := storage.JoinIDs(ids)
		counts[key]++
		members[key] = ids
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := m.analyzer.Now()
	var patterns []*storage.TemporalPattern
	for _, k := range keys {
		c := counts[k]
		if c < m.cfg.MinSequenceCount {
			continue
		}
		ids := members[k]
		patterns = append(patterns, &storage.TemporalPattern{
			UserID: userID,
			Type:   storage.PatternSequence,
			Data: storage.PatternData{
				Sequence:  ids,
				MemoryIDs: append([]int64(nil), ids...),
			},
			Confidence:      math.Min(float64(c)/20.0, 0.95),
			OccurrenceCount: 1,
			FirstSeen:       now,
			LastSeen:        now,
		})
	}
	return patterns
}

// CoAccessCounts counts, for every memory, each unordered pair within the set
// of itself and its co-accessed ids (capped at fanout).
func CoAccessCounts(memories []*storage.Memory, fanout int) map[storage.PairKey]int {
	counts := make(map[storage.PairKey]int)
	for _, mem := range memories {
		co := mem.AccessPattern.CoAccessedWith
		if len(co) == 0 {
			continue
		}
		if fanout > 0 && len(co) > fanout {
			co = co[:fanout]
		}
		set := append([]int64{mem.ID}, co...)
		for i := 0; i < len(set); i++ {
			for j := i + 1; j < len(set); j++ {
				if set[i] == set[j] {
					continue
				}
				counts[storage.NewPairKey(set[i], set[j])]++
			}
		}
	}
	return counts
}

func qualifyingPairs(counts map[storage.PairKey]int, minCount int) []storage.PairKey {
	pairs := make([]storage.PairKey, 0)
	for k, c := range counts {
		if c >= minCount {
			pairs = append(pairs, k)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		ci, cj := counts[pairs[i]], counts[pairs[j]]
		if ci != cj {
			return ci > cj
		}
		if pairs[i].Low != pairs[j].Low {
			return pairs[i].Low < pairs[j].Low
		}
		return pairs[i].High < pairs[j].High
	})
	return pairs
}

// Suggest proposes an edge for every qualifying pair of the user's memories
// that is not yet connected.
func (m *Miner) Suggest(ctx context.Context, userID string, byID map[int64]*storage.Memory, counts map[storage.PairKey]int) ([]RelationshipSuggestion, error) {
	edges, err := m.store.ListRelationships(ctx, &storage.RelationshipListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	existing := make(map[storage.PairKey]struct{}, len(edges))
	for _, e := range edges {
		existing[storage.NewPairKey(e.MemoryID, e.RelatedMemoryID)] = struct{}{}
	}

	suggestions := make([]RelationshipSuggestion, 0)
	for _, pair := range qualifyingPairs(counts, m.cfg.MinCoAccessCount) {
		if _, ok := existing[pair]; ok {
			continue
		}
		a, b := byID[pair.Low], byID[pair.High]
		if a == nil || b == nil {
			continue
		}
		c := counts[pair]
		shared := sharedLongWords(a.Content, b.Content)
		typ := storage.RelatedTo
		if shared > 3 {
			typ = storage.SimilarTo
		}
		if m.classifier != nil {
			classified, err := m.classifier.Classify(ctx, a, b)
			if err != nil {
				m.logger.Debug("classifier fallback",
					zap.Int64("memory_id", a.ID),
					zap.Int64("related_memory_id", b.ID),
					zap.Error(err))
			} else {
				typ = classified
			}
		}

		overlap := tagsOverlap(a.Tags, b.Tags)
		conf := 0.6 + math.Min(float64(c)/100.0, 0.3)
		if overlap {
			conf += 0.1
		}
		reasons := []string{fmt.Sprintf("co-accessed %d times", c)}
		if shared > 3 {
			reasons = append(reasons, fmt.Sprintf("%d shared keywords", shared))
		}
		if overlap {
			reasons = append(reasons, "shared tags")
		}
		suggestions = append(suggestions, RelationshipSuggestion{
			MemoryID:        a.ID,
			RelatedMemoryID: b.ID,
			SuggestedType:   typ,
			Confidence:      math.Min(conf, 0.95),
			Reason:          strings.Join(reasons, "; "),
			CoAccessCount:   c,
		})
	}
	return suggestions, nil
}

// Clusters returns the connected components of the pairs whose count
// reaches minCount. Components and their members are sorted.
func Clusters(counts map[storage.PairKey]int, minCount int) [][]int64 {
	uf := newUnionFind()
	for pair, c := range counts {
		if c >= minCount {
			uf.union(pair.Low, pair.High)
		}
	}
	return uf.groups(2)
}

// Apply persists every suggestion whose confidence reaches threshold and
// returns how many edges were created. Existing edges are left untouched.
func (m *Miner) Apply(ctx context.Context, userID string, suggestions []RelationshipSuggestion, threshold float64) (int, error) {
	created := 0
	var errs []error
	for i := range suggestions {
		s := &suggestions[i]
		if s.Confidence < threshold {
			continue
		}
		ok, err := m.store.CreateRelationship(ctx, s.Relationship(userID))
		if err != nil {
			errs = append(errs, fmt.Errorf("create %d-%d: %w", s.MemoryID, s.RelatedMemoryID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}

// WeightAdjustments averages the helpfulness of the endpoints of the user's
// edges per relationship type. The result is diagnostic and never applied.
func (m *Miner) WeightAdjustments(ctx context.Context, userID string, byID map[int64]*storage.Memory) (map[storage.RelationshipType]float64, error) {
	edges, err := m.store.ListRelationships(ctx, &storage.RelationshipListOptions{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	sums := make(map[storage.RelationshipType]float64)
	counts := make(map[storage.RelationshipType]int)
	for _, e := range edges {
		for _, id := range []int64{e.MemoryID, e.RelatedMemoryID} {
			if mem, ok := byID[id]; ok {
				sums[e.Type] += mem.HelpfulnessScore
				counts[e.Type]++
			}
		}
	}
	adj := make(map[storage.RelationshipType]float64, len(sums))
	for t, sum := range sums {
		adj[t] = sum / float64(counts[t])
	}
	return adj, nil
}
