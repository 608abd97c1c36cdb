// Package core provides the memlearn client: ingestion, learned ranking,
// prediction, suggestion, feedback and the background learning cycle.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/memlearn-go/pkg/feedback"
	"github.com/oceanbase/memlearn-go/pkg/intelligence"
	"github.com/oceanbase/memlearn-go/pkg/prediction"
	"github.com/oceanbase/memlearn-go/pkg/ranking"
	"github.com/oceanbase/memlearn-go/pkg/scheduler"
	"github.com/oceanbase/memlearn-go/pkg/storage"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found or is not
	// owned by the caller.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates that the storage backend could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrCycleInProgress is returned by TriggerLearning while a cycle runs.
	ErrCycleInProgress = scheduler.ErrCycleInProgress
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Search",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "memlearn: Search: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "memlearn: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memlearn: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Add", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: translate(err),
	}
}

// translate attaches the client sentinel matching a package-level error so
// that callers only need to test against this package's sentinels. The
// original error stays in the chain.
func translate(err error) error {
	var sentinel error
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrCycleInProgress):
		return err
	case errors.Is(err, ranking.ErrInvalidRequest),
		errors.Is(err, prediction.ErrInvalidRequest),
		errors.Is(err, feedback.ErrInvalidRequest),
		errors.Is(err, intelligence.ErrInvalidArgument):
		sentinel = ErrInvalidInput
	case errors.Is(err, storage.ErrNotFound):
		sentinel = ErrNotFound
	case errors.Is(err, storage.ErrUnavailable):
		sentinel = ErrStoreUnavailable
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
