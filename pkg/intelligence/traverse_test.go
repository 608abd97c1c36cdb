package intelligence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

func TestRelated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	chain := make([]*storage.Memory, 5)
	for i := range chain {
		chain[i] = insert(t, store, &storage.Memory{Content: "node"})
	}
	for i := 0; i+1 < len(chain); i++ {
		// Alternate direction so traversal has to follow both endpoints.
		from, to := chain[i].ID, chain[i+1].ID
		if i%2 == 1 {
			from, to = to, from
		}
		_, err := store.CreateRelationship(ctx, &storage.Relationship{
			UserID: "user_001", MemoryID: from, RelatedMemoryID: to, Type: storage.Follows, Strength: 0.8,
		})
		require.NoError(t, err)
	}

	related, err := intelligence.Related(ctx, store, "user_001", chain[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, related, intelligence.MaxTraversalDepth)
	for i, r := range related {
		assert.Equal(t, chain[i+1].ID, r.Memory.ID)
		assert.Equal(t, i+1, r.Depth)
		require.NotNil(t, r.Via)
	}

	related, err = intelligence.Related(ctx, store, "user_001", chain[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, chain[1].ID, related[0].Memory.ID)

	related, err = intelligence.Related(ctx, store, "user_001", chain[2].ID, 1)
	require.NoError(t, err)
	assert.Len(t, related, 2)
}

func TestRelated_Cycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := insert(t, store, &storage.Memory{Content: "a"})
	b := insert(t, store, &storage.Memory{Content: "b"})
	c := insert(t, store, &storage.Memory{Content: "c"})
	for _, pair := range [][2]int64{{a.ID, b.ID}, {b.ID, c.ID}, {c.ID, a.ID}} {
		_, err := store.CreateRelationship(ctx, &storage.Relationship{
			UserID: "user_001", MemoryID: pair[0], RelatedMemoryID: pair[1], Type: storage.RelatedTo, Strength: 0.5,
		})
		require.NoError(t, err)
	}

	related, err := intelligence.Related(ctx, store, "user_001", a.ID, 3)
	require.NoError(t, err)
	assert.Len(t, related, 2)
}

func TestRelated_ZeroID(t *testing.T) {
	_, err := intelligence.Related(context.Background(), newStore(t), "user_001", 0, 1)
	assert.ErrorIs(t, err, intelligence.ErrInvalidArgument)
}
