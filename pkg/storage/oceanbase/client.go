// Package oceanbase provides the OceanBase backend of storage.Store.
//
// OceanBase speaks the MySQL protocol and offers a native VECTOR column with
// cosine_distance, so nearest-neighbour ranking runs in the database.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/oceanbase/memlearn-go/pkg/storage/sqlbase"
)

// Client is an OceanBase store.
type Client struct {
	*sqlbase.Client
}

// HNSWParams configures the optional vector index.
type HNSWParams struct {
	M              int
	EfConstruction int
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// HNSW creates an HNSW vector index when set.
	HNSW *HNSWParams
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewOceanBaseClient: embedding dimensions must be positive")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	base, err := sqlbase.Open(context.Background(), db, Dialect{HNSW: cfg.HNSW}, &sqlbase.Config{
		CollectionName:     cfg.CollectionName,
		EmbeddingModelDims: cfg.EmbeddingModelDims,
		NodeID:             5,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	return &Client{Client: base}, nil
}

// Dialect is the OceanBase flavour of sqlbase.Dialect.
type Dialect struct {
	HNSW *HNSWParams
}

// Name implements sqlbase.Dialect.
func (Dialect) Name() string { return "mysql" }

// Numbered implements sqlbase.Dialect.
func (Dialect) Numbered() bool { return false }

// ForUpdate implements sqlbase.Dialect.
func (Dialect) ForUpdate() string { return "FOR UPDATE" }

// NearestNeighbor implements sqlbase.Dialect using cosine_distance.
func (Dialect) NearestNeighbor(table, where string) string {
	return fmt.Sprintf(`
		SELECT id, user_id, agent_id, content, tags, embedding, usage_count,
			helpfulness_score, last_accessed_at, access_pattern, metadata, created_at, updated_at,
			1 - cosine_distance(embedding, ?) AS similarity
		FROM %s
		%s
		ORDER BY cosine_distance(embedding, ?)
		LIMIT ?
	`, table, where)
}

// Schema implements sqlbase.Dialect.
func (d Dialect) Schema(t sqlbase.Tables, dims int) []string {
	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			agent_id VARCHAR(128),
			content LONGTEXT NOT NULL,
			tags JSON,
			embedding VECTOR(%d),
			usage_count BIGINT NOT NULL DEFAULT 0,
			helpfulness_score DOUBLE NOT NULL DEFAULT 0.5,
			last_accessed_at DATETIME(6),
			access_pattern JSON,
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_user (user_id)
		)`, t.Memories, dims),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(128) PRIMARY KEY,
			usage_weight DOUBLE NOT NULL,
			recency_weight DOUBLE NOT NULL,
			helpfulness_weight DOUBLE NOT NULL,
			relationship_weight DOUBLE NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`, t.Weights),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			pattern_type VARCHAR(32) NOT NULL,
			signature VARCHAR(512) NOT NULL,
			pattern_data JSON NOT NULL,
			confidence DOUBLE NOT NULL,
			occurrence_count INT NOT NULL DEFAULT 1,
			first_seen DATETIME(6) NOT NULL,
			last_seen DATETIME(6) NOT NULL,
			UNIQUE KEY uk_pattern (user_id, pattern_type, signature)
		)`, t.Patterns),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			memory_id BIGINT NOT NULL,
			related_memory_id BIGINT NOT NULL,
			pair_low BIGINT NOT NULL,
			pair_high BIGINT NOT NULL,
			relationship_type VARCHAR(32) NOT NULL,
			strength DOUBLE NOT NULL,
			explanation TEXT,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uk_pair (pair_low, pair_high),
			INDEX idx_memory (memory_id),
			INDEX idx_related (related_memory_id)
		)`, t.Relationships),
	}

	if d.HNSW != nil {
		stmts = append(stmts, fmt.Sprintf(`
		CREATE VECTOR INDEX IF NOT EXISTS idx_%s_embedding ON %s (embedding) WITH (
			index_type = HNSW,
			M = %d,
			efConstruction = %d,
			distance = cosine
		)`, t.Memories, t.Memories, d.HNSW.M, d.HNSW.EfConstruction))
	}
	return stmts
}
