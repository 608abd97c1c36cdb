package intelligence

import (
	"context"
	"fmt"
	"sort"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// DetectDuplicates compares the content of the first DuplicateWindow memories
// (the store lists the most recently active first) and groups those whose
// text similarity reaches DuplicateThreshold.
//
// A group is suggested for merge when some pair in it has a plain Jaccard
// index above MergeThreshold, and for review otherwise.
func DetectDuplicates(memories []*storage.Memory, cfg MinerConfig) []DuplicateGroup {
	cfg = cfg.withDefaults()
	if len(memories) > cfg.DuplicateWindow {
		memories = memories[:cfg.DuplicateWindow]
	}
	sets := make([]map[string]struct{}, len(memories))
	for i, m := range memories {
		sets[i] = contentSet(m.Content)
	}

	uf := newUnionFind()
	best := make(map[int64]float64)
	bestJaccard := make(map[int64]float64)
	for i := 0; i < len(memories); i++ {
		if len(sets[i]) == 0 {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			sim, jac := textSimilarity(sets[i], sets[j])
			if sim < cfg.DuplicateThreshold {
				continue
			}
			a, b := memories[i].ID, memories[j].ID
			uf.union(a, b)
			for _, id := range []int64{a, b} {
				if sim > best[id] {
					best[id] = sim
				}
				if jac > bestJaccard[id] {
					bestJaccard[id] = jac
				}
			}
		}
	}

	groups := make([]DuplicateGroup, 0)
	for _, ids := range uf.groups(2) {
		g := DuplicateGroup{MemoryIDs: ids, Suggestion: SuggestReview}
		jac := 0.0
		for _, id := range ids {
			if best[id] > g.Similarity {
				g.Similarity = best[id]
			}
			if bestJaccard[id] > jac {
				jac = bestJaccard[id]
			}
		}
		if jac > cfg.MergeThreshold {
			g.Suggestion = SuggestMerge
		}
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Similarity > groups[j].Similarity })
	return groups
}

// CheckDuplicate looks for an existing memory of userID whose embedding is at
// least threshold-similar to embedding. It returns nil when there is none.
func CheckDuplicate(ctx context.Context, store storage.Store, embedding []float64, userID string, threshold float64) (*storage.Memory, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = 0.95
	}
	candidates, err := store.MatchCandidates(ctx, embedding, &storage.MatchOptions{
		UserID:    userID,
		Threshold: threshold,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if len(candidates) == 0 || candidates[0].Similarity < threshold {
		return nil, nil
	}
	return candidates[0].Memory, nil
}

// unionFind is a disjoint-set forest over memory ids.
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) find(x int64) int64 {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// groups returns the sorted members of every set with at least minSize
// members, ordered by their smallest id.
func (u *unionFind) groups(minSize int) [][]int64 {
	byRoot := make(map[int64][]int64)
	for x := range u.parent {
		r := u.find(x)
		byRoot[r] = append(byRoot[r], x)
	}
	out := make([][]int64, 0, len(byRoot))
	for _, members := range byRoot {
		if len(members) < minSize {
			continue
		}
		out = append(out, storage.SortedIDs(members))
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
