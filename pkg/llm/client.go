// Package llm provides a uniform streaming chat interface over multiple
// OpenAI-compatible providers, separating reasoning ("thinking") output
// from answer content and retrying transport-level failures.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a completion produced neither content
// nor reasoning, typically after a safety filter ate the whole response.
var ErrEmptyResponse = errors.New("llm returned empty response")

// ChunkHandler receives streaming deltas. Either argument may be empty;
// reasoning carries the model's thought stream, content the answer.
type ChunkHandler func(reasoning, content string)

// Request is one chat completion call.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string // "" uses the provider default
	MaxTokens    int
	// ThinkingBudget is a separate thought-token budget for models that
	// accept one; providers without the concept ignore it.
	ThinkingBudget int
	Temperature    float32
	TopP           float32
	Stream         bool
}

// Result aggregates the full completion.
type Result struct {
	Content   string
	Reasoning string
}

// Client is the uniform streaming chat interface. Streaming mode
// delivers every chunk through onChunk before the aggregate returns;
// non-streaming providers synthesize a single-chunk stream.
type Client interface {
	ChatCompletion(ctx context.Context, req Request, onChunk ChunkHandler) (*Result, error)

	// SupportsVision reports whether the provider can OCR images.
	// Callers treat false as "image OCR disabled".
	SupportsVision() bool
}
