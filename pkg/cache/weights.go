// Package cache holds process-local read caches in front of the store.
//
// Entries are eventually consistent with the store: a write through another
// process is seen once the entry expires.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// DefaultTTL is used when a zero TTL is configured.
const DefaultTTL = 5 * time.Minute

// WeightsLoader is the slice of storage.Store the weights cache reads through.
type WeightsLoader interface {
	GetLearningWeights(ctx context.Context, userID string) (*storage.LearningWeights, error)
}

// Weights caches per-user LearningWeights.
type Weights struct {
	cache  *ristretto.Cache
	loader WeightsLoader
	ttl    time.Duration
}

// NewWeights creates a cache sized for maxUsers entries.
func NewWeights(loader WeightsLoader, maxUsers int64, ttl time.Duration) (*Weights, error) {
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxUsers * 10,
		MaxCost:     maxUsers,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("new weights cache: %w", err)
	}
	return &Weights{cache: c, loader: loader, ttl: ttl}, nil
}

// GetLearningWeights returns the user's weights, loading them from the store on a miss.
// The returned value is a copy.
func (w *Weights) GetLearningWeights(ctx context.Context, userID string) (*storage.LearningWeights, error) {
	if v, ok := w.cache.Get(userID); ok {
		if lw, ok := v.(storage.LearningWeights); ok {
			return &lw, nil
		}
	}
	lw, err := w.loader.GetLearningWeights(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.Set(lw)
	cp := *lw
	return &cp, nil
}

// Set stores weights, typically right after a feedback update.
func (w *Weights) Set(lw *storage.LearningWeights) {
	if lw == nil {
		return
	}
	w.cache.SetWithTTL(lw.UserID, *lw, 1, w.ttl)
	w.cache.Wait()
}

// Invalidate drops a user's entry.
func (w *Weights) Invalidate(userID string) {
	w.cache.Del(userID)
}

// Close releases the cache.
func (w *Weights) Close() {
	w.cache.Close()
}
