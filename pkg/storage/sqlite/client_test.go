package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memlearn-go/pkg/storage"
	sqliteStore "github.com/oceanbase/memlearn-go/pkg/storage/sqlite"
	"github.com/oceanbase/memlearn-go/pkg/storage/storagetest"
)

func setupSQLiteTest(t *testing.T) *sqliteStore.Client {
	t.Helper()
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "nested", "memlearn.db"),
		CollectionName:     "memories",
		EmbeddingModelDims: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteClient_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupSQLiteTest(t)
	})
}

func TestSQLiteClient_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	first, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: path, CollectionName: "memories"})
	require.NoError(t, err)
	m := &storage.Memory{UserID: "u", Content: "survives restarts", HelpfulnessScore: 0.5}
	require.NoError(t, first.InsertMemory(ctx, m))
	require.NoError(t, first.IncrementUsage(ctx, m.ID, "search_result"))
	require.NoError(t, first.Close())

	second, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: path, CollectionName: "memories"})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.GetMemory(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, 1, got.AccessPattern.Contexts["search_result"])
}

func TestSQLiteClient_ConcurrentIncrements(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	m := &storage.Memory{UserID: "u", Content: "hot memory", HelpfulnessScore: 0.5}
	require.NoError(t, store.InsertMemory(ctx, m))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.IncrementUsage(ctx, m.ID, "search_result"))
		}()
	}
	wg.Wait()

	got, err := store.GetMemory(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.UsageCount)
}

func TestSQLiteClient_ConcurrentRelationshipCreate(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CreateRelationship(ctx, &storage.Relationship{
				UserID: "u", MemoryID: 10, RelatedMemoryID: 20, Type: storage.RelatedTo, Strength: 0.8,
			})
			assert.NoError(t, err)
			created <- ok
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for ok := range created {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
