package sqlbase

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*storage.Memory, error) {
	return scanMemoryWith(row)
}

// scanMemoryWith scans memoryColumns followed by any extra destinations.
func scanMemoryWith(row rowScanner, extra ...interface{}) (*storage.Memory, error) {
	var (
		m            storage.Memory
		agentID      sql.NullString
		tags         sql.NullString
		embedding    sql.NullString
		lastAccessed sql.NullTime
		pattern      sql.NullString
		metadata     sql.NullString
	)

	dest := []interface{}{
		&m.ID, &m.UserID, &agentID, &m.Content, &tags, &embedding, &m.UsageCount,
		&m.HelpfulnessScore, &lastAccessed, &pattern, &metadata, &m.CreatedAt, &m.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	m.AgentID = agentID.String
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessedAt = &t
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %d: %w", m.ID, err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		vec, err := decodeEmbedding(embedding.String)
		if err != nil {
			return nil, fmt.Errorf("decode embedding of %d: %w", m.ID, err)
		}
		m.Embedding = vec
	}
	if pattern.Valid && pattern.String != "" {
		if err := json.Unmarshal([]byte(pattern.String), &m.AccessPattern); err != nil {
			return nil, fmt.Errorf("decode access pattern of %d: %w", m.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %d: %w", m.ID, err)
		}
	}
	if m.UsageCount < 0 {
		m.UsageCount = 0
	}
	m.AccessPattern.Normalize(m.ID)
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func scanPattern(row rowScanner) (*storage.TemporalPattern, error) {
	var (
		p     storage.TemporalPattern
		pType string
		data  string
	)
	if err := row.Scan(&p.ID, &p.UserID, &pType, &data, &p.Confidence, &p.OccurrenceCount, &p.FirstSeen, &p.LastSeen); err != nil {
		return nil, err
	}
	p.Type = storage.PatternType(pType)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &p.Data); err != nil {
			return nil, fmt.Errorf("decode pattern data of %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

// encodeEmbedding renders a vector as "[v1,v2,...]", the literal accepted by
// pgvector and OceanBase VECTOR columns alike. Nil encodes as SQL NULL.
func encodeEmbedding(vec []float64) interface{} {
	if len(vec) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeEmbedding(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}
	return vec, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
