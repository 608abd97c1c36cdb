package core

import (
	"context"
	"sync"
)

// AsyncResult carries the outcome of an asynchronous operation.
type AsyncResult[T any] struct {
	Value T
	Error error
}

// AsyncClient runs Client operations in their own goroutines.
//
// Every async method returns a buffered channel that receives exactly one
// result and is then closed. Wait blocks until all started operations have
// finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.SearchAsync(ctx, "deploy steps", core.WithUserIDForSearch("user_001"))
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous memlearn client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

func runAsync[T any](wg *sync.WaitGroup, fn func() (T, error)) <-chan *AsyncResult[T] {
	resultChan := make(chan *AsyncResult[T], 1)
	wg.Add(1)

	go func() {
		defer wg.Done()
		v, err := fn()
		resultChan <- &AsyncResult[T]{Value: v, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// AddAsync adds a memory asynchronously.
func (ac *AsyncClient) AddAsync(ctx context.Context, content string, opts ...AddOption) <-chan *AsyncResult[*Memory] {
	return runAsync(&ac.wg, func() (*Memory, error) {
		return ac.Add(ctx, content, opts...)
	})
}

// SearchAsync searches memories asynchronously.
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *AsyncResult[*SearchResult] {
	return runAsync(&ac.wg, func() (*SearchResult, error) {
		return ac.Search(ctx, query, opts...)
	})
}

// PredictAsync predicts the next memories asynchronously.
func (ac *AsyncClient) PredictAsync(ctx context.Context, userID string, recentMemoryIDs []int64, opts ...PredictOption) <-chan *AsyncResult[*PredictResult] {
	return runAsync(&ac.wg, func() (*PredictResult, error) {
		return ac.Predict(ctx, userID, recentMemoryIDs, opts...)
	})
}

// SuggestAsync proposes memories for a context asynchronously.
func (ac *AsyncClient) SuggestAsync(ctx context.Context, userID, contextText string, opts ...SuggestOption) <-chan *AsyncResult[*SuggestResult] {
	return runAsync(&ac.wg, func() (*SuggestResult, error) {
		return ac.Suggest(ctx, userID, contextText, opts...)
	})
}

// FeedbackAsync records feedback asynchronously.
func (ac *AsyncClient) FeedbackAsync(ctx context.Context, userID string, memoryID int64, helpful bool, opts ...FeedbackOption) <-chan *AsyncResult[*FeedbackResult] {
	return runAsync(&ac.wg, func() (*FeedbackResult, error) {
		return ac.Feedback(ctx, userID, memoryID, helpful, opts...)
	})
}

// AnalyzeAsync runs a mining pass asynchronously.
func (ac *AsyncClient) AnalyzeAsync(ctx context.Context, userID string, opts ...AnalyzeOption) <-chan *AsyncResult[*AnalysisReport] {
	return runAsync(&ac.wg, func() (*AnalysisReport, error) {
		return ac.Analyze(ctx, userID, opts...)
	})
}

// Wait waits for all asynchronous operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
