// Package sqlbase implements storage.Store on top of database/sql.
//
// The SQL is written once with '?' placeholders; a Dialect supplies the
// schema, the placeholder style and the optional native vector search of each
// backend. JSON columns hold tags, metadata and the access pattern.
package sqlbase

import (
	"strconv"
	"strings"
)

// Tables holds the table names used by a client.
type Tables struct {
	Memories      string
	Weights       string
	Patterns      string
	Relationships string
}

// NewTables derives table names from a collection name.
func NewTables(collection string) Tables {
	if collection == "" {
		collection = "memories"
	}
	return Tables{
		Memories:      collection,
		Weights:       collection + "_learning_weights",
		Patterns:      collection + "_temporal_patterns",
		Relationships: collection + "_relationships",
	}
}

// Dialect captures what differs between SQL backends.
type Dialect interface {
	// Name is the driver name passed to sql.Open.
	Name() string

	// Numbered reports whether placeholders are $1, $2, ... instead of '?'.
	Numbered() bool

	// Schema returns the DDL statements creating all tables and indexes.
	Schema(t Tables, dims int) []string

	// ForUpdate is appended to row-locking SELECTs inside transactions.
	ForUpdate() string

	// NearestNeighbor returns a native similarity query, or "" when the
	// backend has no vector operators and similarity is computed in process.
	//
	// The query selects memoryColumns plus a trailing similarity column and
	// takes, in order: the query vector, the WHERE arguments, the query
	// vector again and the limit.
	NearestNeighbor(table, where string) string
}

// rebind converts '?' placeholders to $n for numbered dialects.
func rebind(d Dialect, query string) string {
	if !d.Numbered() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// likePattern builds a LIKE pattern matching needle as a substring, escaping
// wildcards with '!'.
func likePattern(needle string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(needle)) + "%"
}
