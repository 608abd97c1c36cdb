// Package postgres provides the PostgreSQL + pgvector backend of storage.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/oceanbase/memlearn-go/pkg/storage/sqlbase"
)

// Client is a PostgreSQL + pgvector store.
type Client struct {
	*sqlbase.Client
}

// HNSWParams configures the optional pgvector HNSW index.
type HNSWParams struct {
	M              int
	EfConstruction int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string

	// HNSW creates an HNSW index on the embedding column when set.
	HNSW *HNSWParams
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	base, err := sqlbase.Open(context.Background(), db, Dialect{HNSW: cfg.HNSW}, &sqlbase.Config{
		CollectionName:     cfg.CollectionName,
		EmbeddingModelDims: cfg.EmbeddingModelDims,
		NodeID:             4,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	return &Client{Client: base}, nil
}

// Dialect is the PostgreSQL flavour of sqlbase.Dialect.
type Dialect struct {
	HNSW *HNSWParams
}

// Name implements sqlbase.Dialect.
func (Dialect) Name() string { return "postgres" }

// Numbered implements sqlbase.Dialect.
func (Dialect) Numbered() bool { return true }

// ForUpdate implements sqlbase.Dialect.
func (Dialect) ForUpdate() string { return "FOR UPDATE" }

// NearestNeighbor implements sqlbase.Dialect using the pgvector cosine
// distance operator.
func (Dialect) NearestNeighbor(table, where string) string {
	return fmt.Sprintf(`
		SELECT id, user_id, agent_id, content, tags::text, embedding::text, usage_count,
			helpfulness_score, last_accessed_at, access_pattern::text, metadata::text, created_at, updated_at,
			1 - (embedding <=> ?::vector) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> ?::vector
		LIMIT ?
	`, table, where)
}

// Schema implements sqlbase.Dialect.
func (d Dialect) Schema(t sqlbase.Tables, dims int) []string {
	vectorType := "vector"
	if dims > 0 {
		vectorType = fmt.Sprintf("vector(%d)", dims)
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			agent_id VARCHAR(255),
			content TEXT NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			embedding %s,
			usage_count BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			helpfulness_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			last_accessed_at TIMESTAMPTZ,
			access_pattern JSONB NOT NULL DEFAULT '{}',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, t.Memories, vectorType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, t.Memories, t.Memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) PRIMARY KEY,
			usage_weight DOUBLE PRECISION NOT NULL,
			recency_weight DOUBLE PRECISION NOT NULL,
			helpfulness_weight DOUBLE PRECISION NOT NULL,
			relationship_weight DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, t.Weights),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			pattern_type VARCHAR(32) NOT NULL,
			signature VARCHAR(512) NOT NULL,
			pattern_data JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, pattern_type, signature)
		)`, t.Patterns),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			memory_id BIGINT NOT NULL,
			related_memory_id BIGINT NOT NULL,
			pair_low BIGINT NOT NULL,
			pair_high BIGINT NOT NULL,
			relationship_type VARCHAR(32) NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			explanation TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (pair_low, pair_high)
		)`, t.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_memory ON %s(memory_id)`, t.Relationships, t.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_related ON %s(related_memory_id)`, t.Relationships, t.Relationships),
	}

	if d.HNSW != nil && dims > 0 {
		stmts = append(stmts, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = %d, ef_construction = %d)
		`, t.Memories, t.Memories, d.HNSW.M, d.HNSW.EfConstruction))
	}
	return stmts
}
