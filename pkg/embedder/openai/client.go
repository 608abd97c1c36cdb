// Package openai implements embedder.Provider on the OpenAI embeddings API.
//
// Any OpenAI-compatible endpoint works through BaseURL, including the
// DashScope compatible mode used for Qwen models.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel and DefaultDimensions apply when Config leaves them empty.
const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
)

// Config configures a Client. APIKey is required.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Client embeds memory content and queries.
type Client struct {
	api        *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewClient creates an embedding client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	c := &Client{
		api:        openai.NewClientWithConfig(config),
		model:      openai.EmbeddingModel(DefaultModel),
		dimensions: cfg.Dimensions,
	}
	if cfg.Model != "" {
		c.model = openai.EmbeddingModel(cfg.Model)
	}
	if c.dimensions == 0 {
		c.dimensions = DefaultDimensions
	}
	return c, nil
}

// Embed implements embedder.Provider.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Results are placed by the index
// the API reports, so the output order matches texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: vector index %d out of range", d.Index)
		}
		vec := make([]float64, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float64(x)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimensions implements embedder.Provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
