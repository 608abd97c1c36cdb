// Package feedback applies explicit helpfulness feedback to a memory and to
// its owner's learning weights.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// ErrInvalidRequest is returned before any store work when a request is
// malformed.
var ErrInvalidRequest = errors.New("invalid request")

// WeightsCache receives the weights produced by each update. *cache.Weights
// satisfies it.
type WeightsCache interface {
	Set(w *storage.LearningWeights)
}

// Request is one feedback event.
type Request struct {
	MemoryID int64

	// UserID, when set, must own the memory.
	UserID string

	Helpful bool

	// Satisfaction in [0,1] scales the update step.
	Satisfaction *float64

	// Context is recorded in the memory's feedback history when non-empty.
	Context string
}

func (r *Request) validate() error {
	if r.MemoryID == 0 {
		return fmt.Errorf("%w: memory id is required", ErrInvalidRequest)
	}
	if r.Satisfaction != nil && (*r.Satisfaction < 0 || *r.Satisfaction > 1) {
		return fmt.Errorf("%w: satisfaction %v outside [0,1]", ErrInvalidRequest, *r.Satisfaction)
	}
	return nil
}

// Result reports the state after feedback was applied.
type Result struct {
	MemoryID            int64                    `json:"memory_id"`
	NewHelpfulnessScore float64                  `json:"new_helpfulness_score"`
	Weights             *storage.LearningWeights `json:"weights"`
}

// Adapter applies feedback through the store.
type Adapter struct {
	store  storage.Store
	cache  WeightsCache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCache refreshes cache with the updated weights.
func WithCache(c WeightsCache) Option {
	return func(a *Adapter) { a.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNow sets the clock stamping feedback entries.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter creates an Adapter over store.
func NewAdapter(store storage.Store, opts ...Option) *Adapter {
	a := &Adapter{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply updates the memory's helpfulness score, adapts the owner's weights
// and, when a context is given, appends it to the feedback history.
//
// The three writes are independent; a failure after the first leaves the
// earlier ones in place.
func (a *Adapter) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	memory, err := a.store.GetMemory(ctx, req.MemoryID, &storage.GetOptions{UserID: req.UserID})
	if err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}

	score, err := a.store.UpdateHelpfulness(ctx, memory.ID, req.Helpful, req.Satisfaction)
	if err != nil {
		return nil, fmt.Errorf("feedback: update helpfulness: %w", err)
	}
	weights, err := a.store.UpdateLearningParams(ctx, memory.UserID, req.Helpful, req.Satisfaction)
	if err != nil {
		return nil, fmt.Errorf("feedback: update weights: %w", err)
	}
	if a.cache != nil {
		a.cache.Set(weights)
	}

	if text := strings.TrimSpace(req.Context); text != "" {
		entry := storage.FeedbackEntry{Context: text, Helpful: req.Helpful, Timestamp: a.now().UTC()}
		if err := a.store.AppendFeedbackContext(ctx, memory.ID, entry); err != nil {
			return nil, fmt.Errorf("feedback: append context: %w", err)
		}
	}

	a.logger.Debug("feedback applied",
		zap.Int64("memory_id", memory.ID),
		zap.String("user_id", memory.UserID),
		zap.Bool("helpful", req.Helpful),
		zap.Float64("helpfulness", score))
	return &Result{MemoryID: memory.ID, NewHelpfulnessScore: score, Weights: weights}, nil
}
