package usage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/memlearn-go/pkg/storage"
	"github.com/oceanbase/memlearn-go/pkg/storage/memstore"
	"github.com/oceanbase/memlearn-go/pkg/usage"
)

func TestTracker_AppliesIncrementsAndCoAccess(t *testing.T) {
	store, err := memstore.New()
	require.NoError(t, err)
	ctx := context.Background()

	a := &storage.Memory{UserID: "u", Content: "a"}
	b := &storage.Memory{UserID: "u", Content: "b"}
	require.NoError(t, store.InsertMemory(ctx, a))
	require.NoError(t, store.InsertMemory(ctx, b))

	tracker := usage.New(store, usage.WithWorkers(3))
	assert.True(t, tracker.Increment([]int64{a.ID, b.ID, a.ID}, "search_result"))
	assert.True(t, tracker.CoAccess([]int64{a.ID, b.ID}))
	require.NoError(t, tracker.Close(ctx))

	gotA, err := store.GetMemory(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gotA.UsageCount)
	assert.Equal(t, 2, gotA.AccessPattern.Contexts["search_result"])
	assert.Equal(t, []int64{b.ID}, gotA.AccessPattern.CoAccessedWith)

	stats := tracker.Stats()
	assert.Equal(t, int64(4), stats.Enqueued)
	assert.Equal(t, int64(4), stats.Completed)
	assert.Zero(t, stats.Dropped)
}

type blockingRecorder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRecorder) IncrementUsage(ctx context.Context, id int64, _ string) error {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return nil
}

func (r *blockingRecorder) RecordCoAccess(context.Context, []int64) error { return nil }

func TestTracker_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	tracker := usage.New(rec, usage.WithQueueSize(1), usage.WithWorkers(1), usage.WithLogger(zap.New(core)))

	require.True(t, tracker.Increment([]int64{1}, "x"))
	<-rec.started // the single worker is now busy

	assert.True(t, tracker.Increment([]int64{2}, "x"))
	assert.False(t, tracker.Increment([]int64{3}, "x"))

	close(rec.release)
	require.NoError(t, tracker.Close(context.Background()))

	assert.Equal(t, int64(1), tracker.Stats().Dropped)
	assert.Equal(t, 1, logs.FilterMessage("usage queue full, dropping task").Len())
}

type failingRecorder struct{}

func (failingRecorder) IncrementUsage(context.Context, int64, string) error {
	return storage.ErrUnavailable
}
func (failingRecorder) RecordCoAccess(context.Context, []int64) error { return errors.New("boom") }

func TestTracker_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracker := usage.New(failingRecorder{}, usage.WithLogger(zap.New(core)), usage.WithTimeout(time.Second))

	tracker.Increment([]int64{7}, "search_result")
	tracker.CoAccess([]int64{7, 8})
	require.NoError(t, tracker.Close(context.Background()))

	assert.Equal(t, int64(2), tracker.Stats().Failed)
	assert.Equal(t, 2, logs.FilterMessage("usage task failed").Len())
}

func TestTracker_CloseTwice(t *testing.T) {
	tracker := usage.New(failingRecorder{})
	require.NoError(t, tracker.Close(context.Background()))
	assert.ErrorIs(t, tracker.Close(context.Background()), usage.ErrClosed)
	assert.False(t, tracker.Increment([]int64{1}, "late"))
}

func TestTracker_CoAccessNeedsTwoIDs(t *testing.T) {
	tracker := usage.New(failingRecorder{})
	defer func() { _ = tracker.Close(context.Background()) }()
	assert.True(t, tracker.CoAccess([]int64{1}))
	assert.Zero(t, tracker.Stats().Enqueued)
}
