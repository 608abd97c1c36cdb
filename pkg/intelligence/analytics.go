// Package intelligence implements the offline learning passes over a user's
// memories: per-memory analytics, pattern mining, duplicate detection,
// maintenance suggestions, relationship traversal and classification.
package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// FrequencyBucket is the coarse usage class of a memory.
type FrequencyBucket string

const (
	FrequencyUnused     FrequencyBucket = "unused"
	FrequencyRare       FrequencyBucket = "rare"
	FrequencyOccasional FrequencyBucket = "occasional"
	FrequencyFrequent   FrequencyBucket = "frequent"
)

// Analytics is the per-memory view consumed by ranking and mining.
type Analytics struct {
	MemoryID         int64           `json:"memory_id"`
	UsageCount       int64           `json:"usage_count"`
	HelpfulnessScore float64         `json:"helpfulness_score"`
	RecencyScore     float64         `json:"recency_score"`
	DaysSinceAccess  float64         `json:"days_since_access"`
	AccessFrequency  FrequencyBucket `json:"access_frequency"`
}

// Analyzer derives analytics from a memory using the Ebbinghaus forgetting
// curve R = e^(-decay * hours/24), measured from the last access (or creation
// when never accessed).
type Analyzer struct {
	// decayRate is the rate at which retention decays per day.
	decayRate float64

	// workingThreshold is the retention below which a memory only lives in
	// working memory and becomes an archive candidate.
	workingThreshold float64

	// archiveAfter is the age after which a never-used memory is archived.
	archiveAfter time.Duration

	now func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithDecayRate overrides the default decay rate of 0.1.
func WithDecayRate(rate float64) AnalyzerOption {
	return func(a *Analyzer) {
		if rate > 0 {
			a.decayRate = rate
		}
	}
}

// WithAnalyzerClock sets the time source.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an Analyzer with decay rate 0.1, working threshold 0.3
// and a 30 day archive age.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		decayRate:        0.1,
		workingThreshold: 0.3,
		archiveAfter:     30 * 24 * time.Hour,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Now returns the analyzer's current time.
func (a *Analyzer) Now() time.Time {
	return a.now()
}

// lastTouch is the reference point of the forgetting curve.
func lastTouch(m *storage.Memory) time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// Retention returns the Ebbinghaus retention of m in [0,1].
func (a *Analyzer) Retention(m *storage.Memory) float64 {
	hours := a.now().Sub(lastTouch(m)).Hours()
	if hours < 0 {
		hours = 0
	}
	return storage.Clamp01(math.Exp(-a.decayRate * hours / 24.0))
}

// DaysSinceAccess returns the days elapsed since the last access or creation.
func (a *Analyzer) DaysSinceAccess(m *storage.Memory) float64 {
	days := a.now().Sub(lastTouch(m)).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}

// Frequency buckets usage by count and recency.
func (a *Analyzer) Frequency(m *storage.Memory) FrequencyBucket {
	switch {
	case m.UsageCount <= 0:
		return FrequencyUnused
	case m.UsageCount >= 10 && a.DaysSinceAccess(m) <= 7:
		return FrequencyFrequent
	case m.UsageCount >= 3:
		return FrequencyOccasional
	default:
		return FrequencyRare
	}
}

// Analyze builds the analytics view of m.
func (a *Analyzer) Analyze(m *storage.Memory) Analytics {
	usage := m.UsageCount
	if usage < 0 {
		usage = 0
	}
	return Analytics{
		MemoryID:         m.ID,
		UsageCount:       usage,
		HelpfulnessScore: storage.Clamp01(m.HelpfulnessScore),
		RecencyScore:     a.Retention(m),
		DaysSinceAccess:  a.DaysSinceAccess(m),
		AccessFrequency:  a.Frequency(m),
	}
}

// ShouldArchive reports whether m is an archive candidate: never used and
// older than the archive age, or retention below the working threshold.
func (a *Analyzer) ShouldArchive(m *storage.Memory) bool {
	if m.UsageCount == 0 && a.now().Sub(m.CreatedAt) > a.archiveAfter {
		return true
	}
	return a.Retention(m) < a.workingThreshold
}
