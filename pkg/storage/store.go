package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that the requested record does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates that the backend could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Store defines the persistent store contract consumed by the learning layer.
//
// All backends (SQLite, PostgreSQL, OceanBase, in-memory) implement it. Counter
// and score mutations are atomic per record; nothing is guaranteed across
// records.
type Store interface {
	// InsertMemory persists a new memory.
	InsertMemory(ctx context.Context, memory *Memory) error

	// GetMemory retrieves a memory by ID with optional owner check.
	GetMemory(ctx context.Context, id int64, opts *GetOptions) (*Memory, error)

	// GetMemories retrieves the given memories. Unknown ids are skipped.
	GetMemories(ctx context.Context, ids []int64) ([]*Memory, error)

	// ListMemories lists an owner's memories, most recently active first.
	ListMemories(ctx context.Context, opts *ListOptions) ([]*Memory, error)

	// DeleteMemory deletes a memory and its access pattern.
	DeleteMemory(ctx context.Context, id int64, opts *DeleteOptions) error

	// ListOwners returns every user id that owns at least one memory.
	ListOwners(ctx context.Context) ([]string, error)

	// MatchCandidates performs nearest-neighbour search.
	//
	// Results carry the base similarity and are sorted by it (highest first).
	MatchCandidates(ctx context.Context, embedding []float64, opts *MatchOptions) ([]*Candidate, error)

	// TextSearch performs case-insensitive substring matching on content.
	// Results keep the backend's retrieval order.
	TextSearch(ctx context.Context, query string, opts *TextSearchOptions) ([]*Memory, error)

	// IncrementUsage atomically bumps usage_count, sets last_accessed and
	// appends to the access history.
	IncrementUsage(ctx context.Context, id int64, usageContext string) error

	// RecordCoAccess links every pair of ids as mutually co-accessed.
	RecordCoAccess(ctx context.Context, ids []int64) error

	// UpdateHelpfulness applies the helpfulness step function and returns
	// the new score.
	UpdateHelpfulness(ctx context.Context, id int64, helpful bool, satisfaction *float64) (float64, error)

	// AppendFeedbackContext appends a feedback entry to the access pattern.
	AppendFeedbackContext(ctx context.Context, id int64, entry FeedbackEntry) error

	// GetLearningWeights returns the user's weights, creating defaults on
	// first use.
	GetLearningWeights(ctx context.Context, userID string) (*LearningWeights, error)

	// UpdateLearningParams adapts the user's weights from one feedback event.
	UpdateLearningParams(ctx context.Context, userID string, helpful bool, satisfaction *float64) (*LearningWeights, error)

	// UpsertTemporalPattern inserts or refreshes a pattern keyed by
	// (user, type, signature).
	UpsertTemporalPattern(ctx context.Context, pattern *TemporalPattern) error

	// ListTemporalPatterns lists an owner's patterns.
	ListTemporalPatterns(ctx context.Context, opts *PatternListOptions) ([]*TemporalPattern, error)

	// ListRelationships lists edges matching the options.
	ListRelationships(ctx context.Context, opts *RelationshipListOptions) ([]*Relationship, error)

	// CreateRelationship persists an edge unless one already exists between
	// the unordered pair. It reports whether a row was created.
	CreateRelationship(ctx context.Context, rel *Relationship) (bool, error)

	// Close closes the store and releases resources.
	Close() error
}

// GetOptions contains options for get operations with access control.
type GetOptions struct {
	// UserID restricts access to memories belonging to this user.
	UserID string
}

// DeleteOptions contains options for delete operations with access control.
type DeleteOptions struct {
	// UserID restricts deletions to memories belonging to this user.
	UserID string
}

// ListOptions contains options for ListMemories.
type ListOptions struct {
	// UserID filters results to a specific owner. Required.
	UserID string

	// Limit caps the number of results (0 = no limit).
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// MatchOptions contains options for nearest-neighbour search.
type MatchOptions struct {
	// UserID filters candidates to a specific owner.
	UserID string

	// Threshold is the minimum similarity for a candidate.
	Threshold float64

	// Limit is the maximum number of candidates.
	Limit int
}

// TextSearchOptions contains options for TextSearch.
type TextSearchOptions struct {
	UserID string
	Limit  int
}

// PatternListOptions contains options for ListTemporalPatterns.
type PatternListOptions struct {
	UserID        string
	MinConfidence float64
	Type          PatternType
}

// RelationshipListOptions contains options for ListRelationships.
type RelationshipListOptions struct {
	// UserID filters edges to a specific owner.
	UserID string

	// MemoryIDs restricts edges to those whose memory_id is in the set.
	MemoryIDs []int64

	// Touching widens MemoryIDs to edges where either endpoint is in the set.
	Touching bool

	// MinStrength drops weaker edges.
	MinStrength float64

	// Limit caps the number of edges (0 = no limit).
	Limit int
}
