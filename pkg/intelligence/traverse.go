package intelligence

import (
	"context"
	"fmt"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

const (
	// MaxTraversalDepth bounds relationship traversal.
	MaxTraversalDepth = 3

	// MaxEdgesPerNode caps the edges expanded from one memory.
	MaxEdgesPerNode = 20
)

// Related walks the relationship graph breadth-first from memoryID and
// returns every memory reached within depth hops, nearest first. Depth is
// clamped to [1, MaxTraversalDepth]; the start memory is not included.
func Related(ctx context.Context, store storage.Store, userID string, memoryID int64, depth int) ([]RelatedMemory, error) {
	if memoryID == 0 {
		return nil, fmt.Errorf("related: %w: zero memory id", ErrInvalidArgument)
	}
	if depth < 1 {
		depth = 1
	}
	if depth > MaxTraversalDepth {
		depth = MaxTraversalDepth
	}

	visited := map[int64]struct{}{memoryID: {}}
	frontier := []int64{memoryID}
	var out []RelatedMemory
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var (
			next []int64
			via  = make(map[int64]*storage.Relationship)
		)
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			edges, err := store.ListRelationships(ctx, &storage.RelationshipListOptions{
				UserID:    userID,
				MemoryIDs: []int64{node},
				Touching:  true,
				Limit:     MaxEdgesPerNode,
			})
			if err != nil {
				return nil, fmt.Errorf("related: %w", err)
			}
			for _, e := range edges {
				other := e.Other(node)
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}
				via[other] = e
				next = append(next, other)
			}
		}
		if len(next) == 0 {
			break
		}
		memories, err := store.GetMemories(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("related: %w", err)
		}
		for _, mem := range memories {
			out = append(out, RelatedMemory{Memory: mem, Depth: level, Via: via[mem.ID]})
		}
		frontier = next
	}
	return out, nil
}
