// Package memstore provides an in-process Store backed by maps.
//
// It keeps no data across restarts and is intended for development, examples
// and tests. Every method copies records in and out, so callers never share
// state with the store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	mu sync.RWMutex

	memories      map[int64]*storage.Memory
	weights       map[string]*storage.LearningWeights
	patterns      map[string]*storage.TemporalPattern
	relationships map[storage.PairKey]*storage.Relationship

	// order records insertion order so that scans are deterministic.
	order []int64

	node   *snowflake.Node
	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for access timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) (*Store, error) {
	node, err := snowflake.NewNode(2)
	if err != nil {
		return nil, fmt.Errorf("NewMemStore: %w", err)
	}
	s := &Store{
		memories:      make(map[int64]*storage.Memory),
		weights:       make(map[string]*storage.LearningWeights),
		patterns:      make(map[string]*storage.TemporalPattern),
		relationships: make(map[storage.PairKey]*storage.Relationship),
		node:          node,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) check(op string) error {
	if s.closed {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}
	return nil
}

// InsertMemory persists a new memory.
func (s *Store) InsertMemory(ctx context.Context, memory *storage.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertMemory"); err != nil {
		return err
	}
	if memory.ID == 0 {
		memory.ID = s.node.Generate().Int64()
	}
	if _, ok := s.memories[memory.ID]; ok {
		return fmt.Errorf("InsertMemory: duplicate id %d", memory.ID)
	}
	now := s.now()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	stored := cloneMemory(memory)
	stored.AccessPattern.Normalize(stored.ID)
	s.memories[memory.ID] = stored
	s.order = append(s.order, memory.ID)
	return nil
}

// GetMemory retrieves a memory by ID with optional owner check.
func (s *Store) GetMemory(ctx context.Context, id int64, opts *storage.GetOptions) (*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetMemory"); err != nil {
		return nil, err
	}
	m, ok := s.memories[id]
	if !ok || (opts != nil && opts.UserID != "" && m.UserID != opts.UserID) {
		return nil, fmt.Errorf("GetMemory: %w", storage.ErrNotFound)
	}
	return cloneMemory(m), nil
}

// GetMemories retrieves the given memories, skipping unknown ids.
func (s *Store) GetMemories(ctx context.Context, ids []int64) ([]*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("GetMemories"); err != nil {
		return nil, err
	}
	out := make([]*storage.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			out = append(out, cloneMemory(m))
		}
	}
	return out, nil
}

// ListMemories lists an owner's memories, most recently active first.
func (s *Store) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListMemories"); err != nil {
		return nil, err
	}
	var out []*storage.Memory
	for _, id := range s.order {
		m := s.memories[id]
		if m == nil || (opts.UserID != "" && m.UserID != opts.UserID) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

// DeleteMemory deletes a memory. Edges touching it are kept, mirroring the
// SQL backends where they surface as broken relationships.
func (s *Store) DeleteMemory(ctx context.Context, id int64, opts *storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteMemory"); err != nil {
		return err
	}
	m, ok := s.memories[id]
	if !ok || (opts != nil && opts.UserID != "" && m.UserID != opts.UserID) {
		return fmt.Errorf("DeleteMemory: %w", storage.ErrNotFound)
	}
	delete(s.memories, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListOwners returns every user id that owns at least one memory.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListOwners"); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var owners []string
	for _, id := range s.order {
		m := s.memories[id]
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		owners = append(owners, m.UserID)
	}
	sort.Strings(owners)
	return owners, nil
}

// MatchCandidates performs nearest-neighbour search using cosine similarity.
func (s *Store) MatchCandidates(ctx context.Context, embedding []float64, opts *storage.MatchOptions) ([]*storage.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("MatchCandidates"); err != nil {
		return nil, err
	}
	var pool []*storage.Memory
	for _, id := range s.order {
		m := s.memories[id]
		if opts.UserID != "" && m.UserID != opts.UserID {
			continue
		}
		pool = append(pool, cloneMemory(m))
	}
	return storage.RankCandidates(embedding, pool, opts.Threshold, opts.Limit), nil
}

// TextSearch performs case-insensitive substring matching.
func (s *Store) TextSearch(ctx context.Context, query string, opts *storage.TextSearchOptions) ([]*storage.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("TextSearch"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*storage.Memory
	for _, id := range s.order {
		m := s.memories[id]
		if opts.UserID != "" && m.UserID != opts.UserID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		out = append(out, cloneMemory(m))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// IncrementUsage bumps usage_count, last_accessed and the access history.
func (s *Store) IncrementUsage(ctx context.Context, id int64, usageContext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("IncrementUsage"); err != nil {
		return err
	}
	m, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("IncrementUsage: %w", storage.ErrNotFound)
	}
	now := s.now()
	m.UsageCount++
	m.LastAccessedAt = &now
	m.AccessPattern.RecordAccess(now, usageContext)
	return nil
}

// RecordCoAccess links every pair of known ids as mutually co-accessed.
func (s *Store) RecordCoAccess(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("RecordCoAccess"); err != nil {
		return err
	}
	for _, a := range ids {
		m, ok := s.memories[a]
		if !ok {
			continue
		}
		for _, b := range ids {
			if a == b {
				continue
			}
			if _, known := s.memories[b]; known {
				m.AccessPattern.AddCoAccess(b)
			}
		}
	}
	return nil
}

// UpdateHelpfulness applies the helpfulness step function.
func (s *Store) UpdateHelpfulness(ctx context.Context, id int64, helpful bool, satisfaction *float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateHelpfulness"); err != nil {
		return 0, err
	}
	m, ok := s.memories[id]
	if !ok {
		return 0, fmt.Errorf("UpdateHelpfulness: %w", storage.ErrNotFound)
	}
	m.HelpfulnessScore = storage.NextHelpfulness(m.HelpfulnessScore, helpful, satisfaction)
	m.UpdatedAt = s.now()
	return m.HelpfulnessScore, nil
}

// AppendFeedbackContext appends a feedback entry to the access pattern.
func (s *Store) AppendFeedbackContext(ctx context.Context, id int64, entry storage.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("AppendFeedbackContext"); err != nil {
		return err
	}
	m, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("AppendFeedbackContext: %w", storage.ErrNotFound)
	}
	m.AccessPattern.FeedbackContexts = append(m.AccessPattern.FeedbackContexts, entry)
	return nil
}

// GetLearningWeights returns the user's weights, creating defaults on first use.
func (s *Store) GetLearningWeights(ctx context.Context, userID string) (*storage.LearningWeights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetLearningWeights"); err != nil {
		return nil, err
	}
	w, ok := s.weights[userID]
	if !ok {
		w = storage.DefaultLearningWeights(userID)
		w.UpdatedAt = s.now()
		s.weights[userID] = w
	}
	cp := *w
	return &cp, nil
}

// UpdateLearningParams adapts the user's weights from one feedback event.
func (s *Store) UpdateLearningParams(ctx context.Context, userID string, helpful bool, satisfaction *float64) (*storage.LearningWeights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateLearningParams"); err != nil {
		return nil, err
	}
	w, ok := s.weights[userID]
	if !ok {
		w = storage.DefaultLearningWeights(userID)
	}
	next := storage.AdaptWeights(*w, helpful, satisfaction)
	next.UpdatedAt = s.now()
	s.weights[userID] = &next
	cp := next
	return &cp, nil
}

// UpsertTemporalPattern inserts or refreshes a pattern keyed by
// (user, type, signature).
func (s *Store) UpsertTemporalPattern(ctx context.Context, pattern *storage.TemporalPattern) error {
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("UpsertTemporalPattern: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpsertTemporalPattern"); err != nil {
		return err
	}
	key := pattern.UserID + "|" + string(pattern.Type) + "|" + pattern.Signature()
	if existing, ok := s.patterns[key]; ok {
		existing.Merge(pattern)
		return nil
	}
	stored := clonePattern(pattern)
	if stored.ID == 0 {
		stored.ID = s.node.Generate().Int64()
	}
	if stored.OccurrenceCount <= 0 {
		stored.OccurrenceCount = 1
	}
	if stored.FirstSeen.IsZero() {
		stored.FirstSeen = s.now()
	}
	if stored.LastSeen.Before(stored.FirstSeen) {
		stored.LastSeen = stored.FirstSeen
	}
	s.patterns[key] = stored
	return nil
}

// ListTemporalPatterns lists an owner's patterns ordered by confidence.
func (s *Store) ListTemporalPatterns(ctx context.Context, opts *storage.PatternListOptions) ([]*storage.TemporalPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListTemporalPatterns"); err != nil {
		return nil, err
	}
	var out []*storage.TemporalPattern
	for _, p := range s.patterns {
		if opts.UserID != "" && p.UserID != opts.UserID {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		if p.Confidence < opts.MinConfidence {
			continue
		}
		out = append(out, clonePattern(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListRelationships lists edges matching the options, strongest first.
func (s *Store) ListRelationships(ctx context.Context, opts *storage.RelationshipListOptions) ([]*storage.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("ListRelationships"); err != nil {
		return nil, err
	}
	var filter map[int64]struct{}
	if len(opts.MemoryIDs) > 0 {
		filter = make(map[int64]struct{}, len(opts.MemoryIDs))
		for _, id := range opts.MemoryIDs {
			filter[id] = struct{}{}
		}
	}
	var out []*storage.Relationship
	for _, r := range s.relationships {
		if opts.UserID != "" && r.UserID != opts.UserID {
			continue
		}
		if r.Strength < opts.MinStrength {
			continue
		}
		if filter != nil {
			_, from := filter[r.MemoryID]
			_, to := filter[r.RelatedMemoryID]
			if !from && !(opts.Touching && to) {
				continue
			}
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, 0, opts.Limit), nil
}

// CreateRelationship persists an edge unless the unordered pair already has one.
func (s *Store) CreateRelationship(ctx context.Context, rel *storage.Relationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateRelationship"); err != nil {
		return false, err
	}
	key := storage.NewPairKey(rel.MemoryID, rel.RelatedMemoryID)
	if _, ok := s.relationships[key]; ok {
		return false, nil
	}
	cp := *rel
	if cp.ID == 0 {
		cp.ID = s.node.Generate().Int64()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.relationships[key] = &cp
	rel.ID = cp.ID
	return true, nil
}

// Close marks the store as closed; later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func lastActivity(m *storage.Memory) time.Time {
	if m.LastAccessedAt != nil && m.LastAccessedAt.After(m.CreatedAt) {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneMemory(m *storage.Memory) *storage.Memory {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Embedding = append([]float64(nil), m.Embedding...)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.AccessPattern.CoAccessedWith = append([]int64(nil), m.AccessPattern.CoAccessedWith...)
	cp.AccessPattern.Contexts = make(map[string]int, len(m.AccessPattern.Contexts))
	for k, v := range m.AccessPattern.Contexts {
		cp.AccessPattern.Contexts[k] = v
	}
	cp.AccessPattern.FeedbackContexts = append([]storage.FeedbackEntry(nil), m.AccessPattern.FeedbackContexts...)
	cp.AccessPattern.AccessTimestamps = append([]time.Time(nil), m.AccessPattern.AccessTimestamps...)
	cp.AccessPattern.Normalize(cp.ID)
	return &cp
}

func clonePattern(p *storage.TemporalPattern) *storage.TemporalPattern {
	cp := *p
	if p.Data.Hour != nil {
		h := *p.Data.Hour
		cp.Data.Hour = &h
	}
	if p.Data.Weekday != nil {
		d := *p.Data.Weekday
		cp.Data.Weekday = &d
	}
	cp.Data.Sequence = append([]int64(nil), p.Data.Sequence...)
	cp.Data.MemoryIDs = append([]int64(nil), p.Data.MemoryIDs...)
	return &cp
}

var _ storage.Store = (*Store)(nil)
