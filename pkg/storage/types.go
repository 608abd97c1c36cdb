// Package storage provides the persistent store contract for memories and their
// learning state.
//
// It defines the Store interface that all backends (SQLite, PostgreSQL,
// OceanBase, in-memory) must satisfy, along with the data model shared by the
// ranking, prediction and mining layers.
package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHelpfulness is the helpfulness score assigned to newly ingested memories.
const DefaultHelpfulness = 0.5

// Memory represents a memory record together with its usage statistics.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// UserID identifies the owner of this memory.
	UserID string `json:"user_id"`

	// AgentID identifies the agent associated with this memory (optional).
	AgentID string `json:"agent_id,omitempty"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Tags is the set of labels attached to the memory.
	Tags []string `json:"tags,omitempty"`

	// Embedding is the vector embedding. Nil when the embedding service
	// was unavailable at ingestion time.
	Embedding []float64 `json:"embedding,omitempty"`

	// UsageCount is the number of recorded reads. Never negative.
	UsageCount int64 `json:"usage_count"`

	// HelpfulnessScore is the learned usefulness estimate in [0,1].
	// Only feedback mutates it.
	HelpfulnessScore float64 `json:"helpfulness_score"`

	// LastAccessedAt is when the memory was last read (nil if never read).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessPattern holds co-access links, context counters and access history.
	AccessPattern AccessPattern `json:"access_pattern"`

	// Metadata contains additional structured information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FeedbackEntry is one explicit feedback event recorded against a memory.
type FeedbackEntry struct {
	Context   string    `json:"context"`
	Helpful   bool      `json:"helpful"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessPattern is the per-memory behavioral record.
//
// All collections only grow; nothing is removed until the memory itself is
// deleted. CoAccessedWith is an insertion-ordered set.
type AccessPattern struct {
	CoAccessedWith   []int64         `json:"co_accessed_with"`
	Contexts         map[string]int  `json:"contexts"`
	FeedbackContexts []FeedbackEntry `json:"feedback_contexts"`
	AccessTimestamps []time.Time     `json:"access_timestamps"`
}

// Normalize fills nil collections and drops duplicate or self-referencing
// co-access ids. Backends call it on every read.
func (p *AccessPattern) Normalize(self int64) {
	if p.Contexts == nil {
		p.Contexts = make(map[string]int)
	}
	if p.FeedbackContexts == nil {
		p.FeedbackContexts = []FeedbackEntry{}
	}
	if p.AccessTimestamps == nil {
		p.AccessTimestamps = []time.Time{}
	}
	seen := make(map[int64]struct{}, len(p.CoAccessedWith))
	ids := make([]int64, 0, len(p.CoAccessedWith))
	for _, id := range p.CoAccessedWith {
		if id == self || id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	p.CoAccessedWith = ids
	for k, v := range p.Contexts {
		if v < 0 {
			p.Contexts[k] = 0
		}
	}
}

// AddCoAccess links id into the co-access set. It returns false when the id
// was already present.
func (p *AccessPattern) AddCoAccess(id int64) bool {
	for _, existing := range p.CoAccessedWith {
		if existing == id {
			return false
		}
	}
	p.CoAccessedWith = append(p.CoAccessedWith, id)
	return true
}

// RecordAccess appends an access timestamp and bumps the context counter.
func (p *AccessPattern) RecordAccess(at time.Time, usageContext string) {
	if p.Contexts == nil {
		p.Contexts = make(map[string]int)
	}
	p.AccessTimestamps = append(p.AccessTimestamps, at)
	if usageContext != "" {
		p.Contexts[usageContext]++
	}
}

// LearningWeights is the per-user weight vector used by the ranking formula.
//
// The weights are not constrained to sum to 1. Feedback moves each weight
// independently within [0.05, 1].
type LearningWeights struct {
	UserID             string    `json:"user_id"`
	UsageWeight        float64   `json:"usage_weight"`
	RecencyWeight      float64   `json:"recency_weight"`
	HelpfulnessWeight  float64   `json:"helpfulness_weight"`
	RelationshipWeight float64   `json:"relationship_weight"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultLearningWeights returns the weights assigned to a user on first use.
func DefaultLearningWeights(userID string) *LearningWeights {
	return &LearningWeights{
		UserID:             userID,
		UsageWeight:        0.3,
		RecencyWeight:      0.2,
		HelpfulnessWeight:  0.5,
		RelationshipWeight: 0.2,
	}
}

// PatternType identifies the kind of temporal regularity.
type PatternType string

const (
	PatternHourly   PatternType = "hourly"
	PatternDaily    PatternType = "daily"
	PatternSequence PatternType = "sequence"
)

// Valid reports whether t is a known pattern type.
func (t PatternType) Valid() bool {
	switch t {
	case PatternHourly, PatternDaily, PatternSequence:
		return true
	}
	return false
}

// PatternData is the type-specific payload of a TemporalPattern.
type PatternData struct {
	// Hour is set for hourly patterns (0-23).
	Hour *int `json:"hour,omitempty"`

	// Weekday is set for daily patterns (0=Sunday).
	Weekday *int `json:"weekday,omitempty"`

	// Sequence is set for sequence patterns.
	Sequence []int64 `json:"sequence,omitempty"`

	// MemoryIDs is the set of memories the pattern predicts.
	MemoryIDs []int64 `json:"memory_ids"`
}

// TemporalPattern is a recurring time-of-day, day-of-week or access-sequence
// regularity detected for one owner.
type TemporalPattern struct {
	ID              int64       `json:"id"`
	UserID          string      `json:"user_id"`
	Type            PatternType `json:"pattern_type"`
	Data            PatternData `json:"pattern_data"`
	Confidence      float64     `json:"confidence"`
	OccurrenceCount int         `json:"occurrence_count"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
}

// Signature is the identity of a pattern within (user, type). Upserts are
// keyed by it so that repeated detection never duplicates a row.
func (p *TemporalPattern) Signature() string {
	switch p.Type {
	case PatternHourly:
		if p.Data.Hour != nil {
			return "hour=" + strconv.Itoa(*p.Data.Hour)
		}
	case PatternDaily:
		if p.Data.Weekday != nil {
			return "weekday=" + strconv.Itoa(*p.Data.Weekday)
		}
	case PatternSequence:
		return "seq=" + JoinIDs(p.Data.Sequence)
	}
	return "ids=" + JoinIDs(p.Data.MemoryIDs)
}

// Validate checks the pattern invariants before it is persisted.
func (p *TemporalPattern) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("temporal pattern: empty user id")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("temporal pattern: unknown type %q", p.Type)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("temporal pattern: confidence %v outside [0,1]", p.Confidence)
	}
	return nil
}

// Merge folds a fresh detection into an existing row: occurrence count grows,
// confidence and the affected id set are refreshed, last seen moves forward.
func (p *TemporalPattern) Merge(detected *TemporalPattern) {
	p.OccurrenceCount++
	p.Confidence = detected.Confidence
	p.Data.MemoryIDs = detected.Data.MemoryIDs
	if detected.LastSeen.After(p.LastSeen) {
		p.LastSeen = detected.LastSeen
	}
	if p.LastSeen.Before(p.FirstSeen) {
		p.LastSeen = p.FirstSeen
	}
}

// RelationshipType is the semantic type of a relationship edge.
type RelationshipType string

const (
	RelatedTo   RelationshipType = "related_to"
	CausedBy    RelationshipType = "caused_by"
	SimilarTo   RelationshipType = "similar_to"
	Follows     RelationshipType = "follows"
	Contradicts RelationshipType = "contradicts"
)

// ParseRelationshipType maps a free-form label onto a known type.
func ParseRelationshipType(s string) (RelationshipType, bool) {
	t := RelationshipType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case RelatedTo, CausedBy, SimilarTo, Follows, Contradicts:
		return t, true
	}
	return "", false
}

// Relationship is a persisted edge between two memories.
type Relationship struct {
	ID              int64            `json:"id"`
	UserID          string           `json:"user_id"`
	MemoryID        int64            `json:"memory_id"`
	RelatedMemoryID int64            `json:"related_memory_id"`
	Type            RelationshipType `json:"relationship_type"`
	Strength        float64          `json:"strength"`
	Explanation     string           `json:"explanation,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Other returns the endpoint of the edge that is not id.
func (r *Relationship) Other(id int64) int64 {
	if r.MemoryID == id {
		return r.RelatedMemoryID
	}
	return r.MemoryID
}

// PairKey is the unordered identity of a pair of memories.
type PairKey struct {
	Low, High int64
}

// NewPairKey orders a and b so that (a,b) and (b,a) share a key.
func NewPairKey(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

// Candidate is a nearest-neighbour match with its base similarity.
type Candidate struct {
	Memory     *Memory
	Similarity float64
}

// JoinIDs renders ids as a comma separated string in their given order.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// SortedIDs returns a sorted copy of ids.
func SortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
