// Package sqlite provides the SQLite backend of storage.Store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Vectors are stored as JSON strings in TEXT
// fields and similarity search uses in-process cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/memlearn-go/pkg/storage/sqlbase"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	*sqlbase.Client
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the base name of the tables to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

// NewClient creates a new SQLite store.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and embedding dimensions
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	// Immediate transactions serialise read-modify-write updates; the busy
	// timeout makes concurrent writers wait instead of failing.
	dsn := cfg.DBPath + "?_foreign_keys=1&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	base, err := sqlbase.Open(context.Background(), db, Dialect{}, &sqlbase.Config{
		CollectionName:     cfg.CollectionName,
		EmbeddingModelDims: cfg.EmbeddingModelDims,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	return &Client{Client: base}, nil
}

// Dialect is the SQLite flavour of sqlbase.Dialect.
type Dialect struct{}

// Name implements sqlbase.Dialect.
func (Dialect) Name() string { return "sqlite3" }

// Numbered implements sqlbase.Dialect.
func (Dialect) Numbered() bool { return false }

// ForUpdate implements sqlbase.Dialect. SQLite locks the whole database for
// an immediate transaction, so no row lock clause exists.
func (Dialect) ForUpdate() string { return "" }

// NearestNeighbor implements sqlbase.Dialect. SQLite has no vector
// operators, so similarity is computed in process.
func (Dialect) NearestNeighbor(table, where string) string { return "" }

// Schema implements sqlbase.Dialect.
func (Dialect) Schema(t sqlbase.Tables, dims int) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			embedding TEXT,
			usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			helpfulness_score REAL NOT NULL DEFAULT 0.5,
			last_accessed_at DATETIME,
			access_pattern TEXT NOT NULL DEFAULT '{}',
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`, t.Memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, t.Memories, t.Memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			usage_weight REAL NOT NULL,
			recency_weight REAL NOT NULL,
			helpfulness_weight REAL NOT NULL,
			relationship_weight REAL NOT NULL,
			updated_at DATETIME NOT NULL
		)`, t.Weights),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			pattern_type TEXT NOT NULL,
			signature TEXT NOT NULL,
			pattern_data TEXT NOT NULL,
			confidence REAL NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL,
			UNIQUE (user_id, pattern_type, signature)
		)`, t.Patterns),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_id INTEGER NOT NULL,
			related_memory_id INTEGER NOT NULL,
			pair_low INTEGER NOT NULL,
			pair_high INTEGER NOT NULL,
			relationship_type TEXT NOT NULL,
			strength REAL NOT NULL,
			explanation TEXT,
			created_at DATETIME NOT NULL,
			UNIQUE (pair_low, pair_high)
		)`, t.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_memory ON %s(memory_id)`, t.Relationships, t.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_related ON %s(related_memory_id)`, t.Relationships, t.Relationships),
	}
}
