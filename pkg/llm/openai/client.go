// Package openai implements llm.Provider on the OpenAI chat completions API.
//
// DeepSeek, Qwen (DashScope compatible mode) and Ollama expose the same API
// and are reached by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/memlearn-go/pkg/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNoAnswer is returned when the API replies without choices.
var ErrNoAnswer = errors.New("openai llm: no choices returned")

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client talks to an OpenAI-compatible chat endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates a chat client. Ollama accepts any API key, so an empty
// one is allowed.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("openai llm: config is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClientWithConfig(config), model: model}, nil
}

// Model returns the model requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)
	return c.complete(ctx, llm.PromptMessages(prompt, options), options)
}

// GenerateWithMessages implements llm.Provider.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai llm: no messages")
	}
	return c.complete(ctx, messages, llm.ApplyGenerateOptions(opts))
}

func (c *Client) complete(ctx context.Context, messages []llm.Message, options *llm.GenerateOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoAnswer
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
