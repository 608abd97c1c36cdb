package storage

import (
	"math"
	"sort"
)

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns 0 if the vectors have different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankCandidates scores memories against a query embedding in process,
// applies the threshold and returns the top limit candidates by similarity.
// Ties keep the input order.
func RankCandidates(embedding []float64, memories []*Memory, threshold float64, limit int) []*Candidate {
	candidates := make([]*Candidate, 0, len(memories))
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(embedding, m.Embedding)
		if score < threshold {
			continue
		}
		candidates = append(candidates, &Candidate{Memory: m, Similarity: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
