package sqlbase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// memoryColumns is the column list shared by every memory SELECT.
const memoryColumns = `id, user_id, agent_id, content, tags, embedding, usage_count,
	helpfulness_score, last_accessed_at, access_pattern, metadata, created_at, updated_at`

// Client implements storage.Store over a database/sql connection.
type Client struct {
	// db is the database connection pool.
	db *sql.DB

	// dialect supplies backend-specific SQL.
	dialect Dialect

	// tables holds the table names.
	tables Tables

	// dimensions is the dimension of embedding vectors.
	dimensions int

	// node generates ids for patterns and relationships.
	node *snowflake.Node

	now func() time.Time
}

// Config contains configuration for creating a Client.
type Config struct {
	// CollectionName is the base table name.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int

	// NodeID is the snowflake node used for generated ids (0-1023).
	NodeID int64
}

// Open wraps an already opened database, verifies the connection and
// creates the schema.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, cfg *Config) (*Client, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("Open %s: %w: %w", dialect.Name(), storage.ErrUnavailable, err)
	}

	nodeID := cfg.NodeID
	if nodeID == 0 {
		nodeID = 3
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("Open %s: %w", dialect.Name(), err)
	}

	c := &Client{
		db:         db,
		dialect:    dialect,
		tables:     NewTables(cfg.CollectionName),
		dimensions: cfg.EmbeddingModelDims,
		node:       node,
		now:        func() time.Time { return time.Now().UTC() },
	}

	if err := c.initTables(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Tables returns the table names used by the client.
func (c *Client) Tables() Tables {
	return c.tables
}

func (c *Client) initTables(ctx context.Context) error {
	for _, stmt := range c.dialect.Schema(c.tables, c.dimensions) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

func (c *Client) q(query string) string {
	return rebind(c.dialect, query)
}

// wrapErr annotates err with op and marks connection failures as
// storage.ErrUnavailable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// InsertMemory persists a new memory.
func (c *Client) InsertMemory(ctx context.Context, memory *storage.Memory) error {
	if memory.ID == 0 {
		memory.ID = c.node.Generate().Int64()
	}
	now := c.now()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	memory.CreatedAt = memory.CreatedAt.UTC()
	memory.UpdatedAt = memory.UpdatedAt.UTC()
	memory.AccessPattern.Normalize(memory.ID)

	tags, err := json.Marshal(nonNilTags(memory.Tags))
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	pattern, err := json.Marshal(memory.AccessPattern)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	metadata, err := json.Marshal(memory.Metadata)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, agent_id, content, tags, embedding, usage_count, helpfulness_score,
		 last_accessed_at, access_pattern, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tables.Memories)

	_, err = c.db.ExecContext(ctx, c.q(query),
		memory.ID,
		memory.UserID,
		memory.AgentID,
		memory.Content,
		string(tags),
		encodeEmbedding(memory.Embedding),
		memory.UsageCount,
		storage.Clamp01(memory.HelpfulnessScore),
		nullTime(memory.LastAccessedAt),
		string(pattern),
		string(metadata),
		memory.CreatedAt,
		memory.UpdatedAt,
	)
	return wrapErr("InsertMemory", err)
}

// GetMemory retrieves a memory by ID with optional owner check.
func (c *Client) GetMemory(ctx context.Context, id int64, opts *storage.GetOptions) (*storage.Memory, error) {
	where := "WHERE id = ?"
	args := []interface{}{id}
	if opts != nil && opts.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, opts.UserID)
	}

	query := fmt.Sprintf("SELECT %s FROM %s %s", memoryColumns, c.tables.Memories, where)
	memory, err := scanMemory(c.db.QueryRowContext(ctx, c.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetMemory: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("GetMemory", err)
	}
	return memory, nil
}

// GetMemories retrieves the given memories, skipping unknown ids. The result
// follows the order of ids.
func (c *Client) GetMemories(ctx context.Context, ids []int64) ([]*storage.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)",
		memoryColumns, c.tables.Memories, placeholders(len(ids)))

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, wrapErr("GetMemories", err)
	}
	defer func() { _ = rows.Close() }()

	found, err := scanMemories(rows)
	if err != nil {
		return nil, wrapErr("GetMemories", err)
	}
	byID := make(map[int64]*storage.Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]*storage.Memory, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListMemories lists an owner's memories, most recently active first.
func (c *Client) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	where, args := ownerClause(opts.UserID)
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY COALESCE(last_accessed_at, created_at) DESC, id DESC
		%s
	`, memoryColumns, c.tables.Memories, where, limitClause(opts.Limit, opts.Offset, &args))

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, wrapErr("ListMemories", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows)
	return memories, wrapErr("ListMemories", err)
}

// DeleteMemory deletes a memory by ID with optional owner check.
func (c *Client) DeleteMemory(ctx context.Context, id int64, opts *storage.DeleteOptions) error {
	where := "WHERE id = ?"
	args := []interface{}{id}
	if opts != nil && opts.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, opts.UserID)
	}

	result, err := c.db.ExecContext(ctx, c.q(fmt.Sprintf("DELETE FROM %s %s", c.tables.Memories, where)), args...)
	if err != nil {
		return wrapErr("DeleteMemory", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("DeleteMemory", err)
	}
	if affected == 0 {
		return fmt.Errorf("DeleteMemory: %w", storage.ErrNotFound)
	}
	return nil
}

// ListOwners returns every user id that owns at least one memory.
func (c *Client) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT user_id FROM %s ORDER BY user_id", c.tables.Memories))
	if err != nil {
		return nil, wrapErr("ListOwners", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, wrapErr("ListOwners", err)
		}
		owners = append(owners, owner)
	}
	return owners, wrapErr("ListOwners", rows.Err())
}

// MatchCandidates performs nearest-neighbour search.
//
// Backends with vector operators rank in SQL; otherwise every embedded memory
// of the owner is loaded and ranked by cosine similarity in process.
func (c *Client) MatchCandidates(ctx context.Context, embedding []float64, opts *storage.MatchOptions) ([]*storage.Candidate, error) {
	where, whereArgs := ownerClause(opts.UserID)
	if where == "" {
		where = "WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}

	native := c.dialect.NearestNeighbor(c.tables.Memories, where)
	if native == "" {
		query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id", memoryColumns, c.tables.Memories, where)
		rows, err := c.db.QueryContext(ctx, c.q(query), whereArgs...)
		if err != nil {
			return nil, wrapErr("MatchCandidates", err)
		}
		defer func() { _ = rows.Close() }()

		memories, err := scanMemories(rows)
		if err != nil {
			return nil, wrapErr("MatchCandidates", err)
		}
		return storage.RankCandidates(embedding, memories, opts.Threshold, opts.Limit), nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	vector := encodeEmbedding(embedding)
	args := append([]interface{}{vector}, whereArgs...)
	args = append(args, vector, limit)

	rows, err := c.db.QueryContext(ctx, c.q(native), args...)
	if err != nil {
		return nil, wrapErr("MatchCandidates", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*storage.Candidate
	for rows.Next() {
		var similarity float64
		memory, err := scanMemoryWith(rows, &similarity)
		if err != nil {
			return nil, wrapErr("MatchCandidates", err)
		}
		if similarity < opts.Threshold {
			continue
		}
		candidates = append(candidates, &storage.Candidate{Memory: memory, Similarity: similarity})
	}
	return candidates, wrapErr("MatchCandidates", rows.Err())
}

// TextSearch performs case-insensitive substring matching on content.
func (c *Client) TextSearch(ctx context.Context, query string, opts *storage.TextSearchOptions) ([]*storage.Memory, error) {
	where, args := ownerClause(opts.UserID)
	cond := "LOWER(content) LIKE ? ESCAPE '!'"
	if where == "" {
		where = "WHERE " + cond
	} else {
		where += " AND " + cond
	}
	args = append(args, likePattern(strings.TrimSpace(query)))

	sqlQuery := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id %s",
		memoryColumns, c.tables.Memories, where, limitClause(opts.Limit, 0, &args))

	rows, err := c.db.QueryContext(ctx, c.q(sqlQuery), args...)
	if err != nil {
		return nil, wrapErr("TextSearch", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows)
	return memories, wrapErr("TextSearch", err)
}

// IncrementUsage atomically bumps usage_count and records the access.
func (c *Client) IncrementUsage(ctx context.Context, id int64, usageContext string) error {
	return c.mutatePattern(ctx, "IncrementUsage", id, func(m *storage.Memory, now time.Time) {
		m.UsageCount++
		m.LastAccessedAt = &now
		m.AccessPattern.RecordAccess(now, usageContext)
	})
}

// RecordCoAccess links every pair of known ids as mutually co-accessed.
func (c *Client) RecordCoAccess(ctx context.Context, ids []int64) error {
	known, err := c.GetMemories(ctx, uniqueIDs(ids))
	if err != nil {
		return fmt.Errorf("RecordCoAccess: %w", err)
	}
	unique := make([]int64, len(known))
	for i, m := range known {
		unique[i] = m.ID
	}
	if len(unique) < 2 {
		return nil
	}
	for _, id := range unique {
		err := c.mutatePattern(ctx, "RecordCoAccess", id, func(m *storage.Memory, _ time.Time) {
			for _, other := range unique {
				if other != id {
					m.AccessPattern.AddCoAccess(other)
				}
			}
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// UpdateHelpfulness applies the helpfulness step function.
func (c *Client) UpdateHelpfulness(ctx context.Context, id int64, helpful bool, satisfaction *float64) (float64, error) {
	var score float64
	err := c.mutatePattern(ctx, "UpdateHelpfulness", id, func(m *storage.Memory, now time.Time) {
		m.HelpfulnessScore = storage.NextHelpfulness(m.HelpfulnessScore, helpful, satisfaction)
		m.UpdatedAt = now
		score = m.HelpfulnessScore
	})
	return score, err
}

// AppendFeedbackContext appends a feedback entry to the access pattern.
func (c *Client) AppendFeedbackContext(ctx context.Context, id int64, entry storage.FeedbackEntry) error {
	return c.mutatePattern(ctx, "AppendFeedbackContext", id, func(m *storage.Memory, _ time.Time) {
		m.AccessPattern.FeedbackContexts = append(m.AccessPattern.FeedbackContexts, entry)
	})
}

// mutatePattern runs a locked read-modify-write of the mutable memory fields.
func (c *Client) mutatePattern(ctx context.Context, op string, id int64, fn func(m *storage.Memory, now time.Time)) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? %s", memoryColumns, c.tables.Memories, c.dialect.ForUpdate())
	memory, err := scanMemory(tx.QueryRowContext(ctx, c.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return wrapErr(op, err)
	}

	fn(memory, c.now())
	if memory.UsageCount < 0 {
		memory.UsageCount = 0
	}

	pattern, err := json.Marshal(memory.AccessPattern)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	update := fmt.Sprintf(`
		UPDATE %s
		SET usage_count = ?, helpfulness_score = ?, last_accessed_at = ?, access_pattern = ?, updated_at = ?
		WHERE id = ?
	`, c.tables.Memories)
	if _, err := tx.ExecContext(ctx, c.q(update),
		memory.UsageCount,
		storage.Clamp01(memory.HelpfulnessScore),
		nullTime(memory.LastAccessedAt),
		string(pattern),
		memory.UpdatedAt,
		id,
	); err != nil {
		return wrapErr(op, err)
	}
	return wrapErr(op, tx.Commit())
}

// GetLearningWeights returns the user's weights, creating defaults on first use.
func (c *Client) GetLearningWeights(ctx context.Context, userID string) (*storage.LearningWeights, error) {
	w, err := c.selectWeights(ctx, c.db, userID, "")
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapErr("GetLearningWeights", err)
	}

	w = storage.DefaultLearningWeights(userID)
	w.UpdatedAt = c.now()
	if insertErr := c.insertWeights(ctx, c.db, w); insertErr != nil {
		// A concurrent first use may have inserted the row already.
		existing, err := c.selectWeights(ctx, c.db, userID, "")
		if err != nil {
			return nil, wrapErr("GetLearningWeights", insertErr)
		}
		return existing, nil
	}
	return w, nil
}

// UpdateLearningParams adapts the user's weights from one feedback event.
func (c *Client) UpdateLearningParams(ctx context.Context, userID string, helpful bool, satisfaction *float64) (*storage.LearningWeights, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("UpdateLearningParams", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := c.selectWeights(ctx, tx, userID, c.dialect.ForUpdate())
	exists := err == nil
	if errors.Is(err, sql.ErrNoRows) {
		current = storage.DefaultLearningWeights(userID)
	} else if err != nil {
		return nil, wrapErr("UpdateLearningParams", err)
	}

	next := storage.AdaptWeights(*current, helpful, satisfaction)
	next.UpdatedAt = c.now()

	if exists {
		update := fmt.Sprintf(`
			UPDATE %s
			SET usage_weight = ?, recency_weight = ?, helpfulness_weight = ?, relationship_weight = ?, updated_at = ?
			WHERE user_id = ?
		`, c.tables.Weights)
		_, err = tx.ExecContext(ctx, c.q(update),
			next.UsageWeight, next.RecencyWeight, next.HelpfulnessWeight, next.RelationshipWeight, next.UpdatedAt, userID)
	} else {
		err = c.insertWeights(ctx, tx, &next)
	}
	if err != nil {
		return nil, wrapErr("UpdateLearningParams", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("UpdateLearningParams", err)
	}
	return &next, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (c *Client) selectWeights(ctx context.Context, q querier, userID, lock string) (*storage.LearningWeights, error) {
	query := fmt.Sprintf(`
		SELECT user_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight, updated_at
		FROM %s WHERE user_id = ? %s
	`, c.tables.Weights, lock)
	var w storage.LearningWeights
	err := q.QueryRowContext(ctx, c.q(query), userID).Scan(
		&w.UserID, &w.UsageWeight, &w.RecencyWeight, &w.HelpfulnessWeight, &w.RelationshipWeight, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) insertWeights(ctx context.Context, q querier, w *storage.LearningWeights) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.tables.Weights)
	_, err := q.ExecContext(ctx, c.q(query),
		w.UserID, w.UsageWeight, w.RecencyWeight, w.HelpfulnessWeight, w.RelationshipWeight, w.UpdatedAt)
	return err
}

// UpsertTemporalPattern inserts or refreshes a pattern keyed by
// (user, type, signature).
func (c *Client) UpsertTemporalPattern(ctx context.Context, pattern *storage.TemporalPattern) error {
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("UpsertTemporalPattern: %w", err)
	}
	signature := pattern.Signature()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("UpsertTemporalPattern", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		SELECT id, user_id, pattern_type, pattern_data, confidence, occurrence_count, first_seen, last_seen
		FROM %s WHERE user_id = ? AND pattern_type = ? AND signature = ? %s
	`, c.tables.Patterns, c.dialect.ForUpdate())
	existing, err := scanPattern(tx.QueryRowContext(ctx, c.q(query), pattern.UserID, string(pattern.Type), signature))

	switch {
	case err == nil:
		existing.Merge(pattern)
		data, err := json.Marshal(existing.Data)
		if err != nil {
			return fmt.Errorf("UpsertTemporalPattern: %w", err)
		}
		update := fmt.Sprintf(`
			UPDATE %s SET pattern_data = ?, confidence = ?, occurrence_count = ?, last_seen = ?
			WHERE id = ?
		`, c.tables.Patterns)
		if _, err := tx.ExecContext(ctx, c.q(update),
			string(data), existing.Confidence, existing.OccurrenceCount, existing.LastSeen, existing.ID); err != nil {
			return wrapErr("UpsertTemporalPattern", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		now := c.now()
		row := *pattern
		if row.ID == 0 {
			row.ID = c.node.Generate().Int64()
		}
		if row.OccurrenceCount <= 0 {
			row.OccurrenceCount = 1
		}
		if row.FirstSeen.IsZero() {
			row.FirstSeen = now
		}
		if row.LastSeen.Before(row.FirstSeen) {
			row.LastSeen = row.FirstSeen
		}
		data, err := json.Marshal(row.Data)
		if err != nil {
			return fmt.Errorf("UpsertTemporalPattern: %w", err)
		}
		insert := fmt.Sprintf(`
			INSERT INTO %s (id, user_id, pattern_type, signature, pattern_data, confidence, occurrence_count, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.tables.Patterns)
		if _, err := tx.ExecContext(ctx, c.q(insert),
			row.ID, row.UserID, string(row.Type), signature, string(data),
			row.Confidence, row.OccurrenceCount, row.FirstSeen, row.LastSeen); err != nil {
			return wrapErr("UpsertTemporalPattern", err)
		}
	default:
		return wrapErr("UpsertTemporalPattern", err)
	}

	return wrapErr("UpsertTemporalPattern", tx.Commit())
}

// ListTemporalPatterns lists an owner's patterns ordered by confidence.
func (c *Client) ListTemporalPatterns(ctx context.Context, opts *storage.PatternListOptions) ([]*storage.TemporalPattern, error) {
	conditions := []string{"confidence >= ?"}
	args := []interface{}{opts.MinConfidence}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Type != "" {
		conditions = append(conditions, "pattern_type = ?")
		args = append(args, string(opts.Type))
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, pattern_type, pattern_data, confidence, occurrence_count, first_seen, last_seen
		FROM %s WHERE %s ORDER BY confidence DESC, id
	`, c.tables.Patterns, strings.Join(conditions, " AND "))

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, wrapErr("ListTemporalPatterns", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []*storage.TemporalPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, wrapErr("ListTemporalPatterns", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, wrapErr("ListTemporalPatterns", rows.Err())
}

// ListRelationships lists edges matching the options, strongest first.
func (c *Client) ListRelationships(ctx context.Context, opts *storage.RelationshipListOptions) ([]*storage.Relationship, error) {
	conditions := []string{"strength >= ?"}
	args := []interface{}{opts.MinStrength}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.MemoryIDs) > 0 {
		in := placeholders(len(opts.MemoryIDs))
		ids := make([]interface{}, len(opts.MemoryIDs))
		for i, id := range opts.MemoryIDs {
			ids[i] = id
		}
		if opts.Touching {
			conditions = append(conditions, fmt.Sprintf("(memory_id IN (%s) OR related_memory_id IN (%s))", in, in))
			args = append(args, ids...)
			args = append(args, ids...)
		} else {
			conditions = append(conditions, fmt.Sprintf("memory_id IN (%s)", in))
			args = append(args, ids...)
		}
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, memory_id, related_memory_id, relationship_type, strength, explanation, created_at
		FROM %s WHERE %s ORDER BY strength DESC, id %s
	`, c.tables.Relationships, strings.Join(conditions, " AND "), limitClause(opts.Limit, 0, &args))

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, wrapErr("ListRelationships", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []*storage.Relationship
	for rows.Next() {
		var r storage.Relationship
		var relType string
		var explanation sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.MemoryID, &r.RelatedMemoryID, &relType,
			&r.Strength, &explanation, &r.CreatedAt); err != nil {
			return nil, wrapErr("ListRelationships", err)
		}
		r.Type = storage.RelationshipType(relType)
		r.Explanation = explanation.String
		rels = append(rels, &r)
	}
	return rels, wrapErr("ListRelationships", rows.Err())
}

// CreateRelationship persists an edge unless the unordered pair already has
// one. The unique (pair_low, pair_high) index makes concurrent applies safe.
func (c *Client) CreateRelationship(ctx context.Context, rel *storage.Relationship) (bool, error) {
	key := storage.NewPairKey(rel.MemoryID, rel.RelatedMemoryID)
	exists, err := c.pairExists(ctx, key)
	if err != nil {
		return false, wrapErr("CreateRelationship", err)
	}
	if exists {
		return false, nil
	}

	if rel.ID == 0 {
		rel.ID = c.node.Generate().Int64()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = c.now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, memory_id, related_memory_id, pair_low, pair_high,
			relationship_type, strength, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tables.Relationships)
	_, err = c.db.ExecContext(ctx, c.q(query),
		rel.ID, rel.UserID, rel.MemoryID, rel.RelatedMemoryID, key.Low, key.High,
		string(rel.Type), storage.Clamp01(rel.Strength), rel.Explanation, rel.CreatedAt)
	if err != nil {
		if again, checkErr := c.pairExists(ctx, key); checkErr == nil && again {
			return false, nil
		}
		return false, wrapErr("CreateRelationship", err)
	}
	return true, nil
}

func (c *Client) pairExists(ctx context.Context, key storage.PairKey) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE pair_low = ? AND pair_high = ?", c.tables.Relationships)
	var n int
	if err := c.db.QueryRowContext(ctx, c.q(query), key.Low, key.High).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func ownerClause(userID string) (string, []interface{}) {
	if userID == "" {
		return "", nil
	}
	return "WHERE user_id = ?", []interface{}{userID}
}

func limitClause(limit, offset int, args *[]interface{}) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	*args = append(*args, limit, offset)
	return "LIMIT ? OFFSET ?"
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ storage.Store = (*Client)(nil)
