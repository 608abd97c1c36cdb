// Package llm provides the chat-completion contract used for relationship
// classification.
package llm

import "context"

// Provider is a chat model.
type Provider interface {
	// Generate answers a single user prompt, preceded by the system
	// instruction when WithSystem is given.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages answers a full conversation. WithSystem is
	// ignored; put the instruction in messages instead.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	Close() error
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Defaults suit short label answers: deterministic and a handful of tokens.
const (
	DefaultTemperature = 0
	DefaultMaxTokens   = 32
)

// GenerateOptions holds per-request generation settings.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	System      string
}

// GenerateOption configures a request.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens caps the answer length.
//
//	label, _ := provider.Generate(ctx, prompt, llm.WithMaxTokens(10))
func WithMaxTokens(n int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = n
	}
}

// WithSystem sets the system instruction sent before the prompt.
func WithSystem(instruction string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.System = instruction
	}
}

// ApplyGenerateOptions resolves opts over the defaults.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// PromptMessages builds the conversation Generate sends.
func PromptMessages(prompt string, options *GenerateOptions) []Message {
	msgs := make([]Message, 0, 2)
	if options.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: options.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}
