package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/prompt"
)

// transport-level retry budget. A 429/5xx response carrying Retry-After
// waits exactly what the server asked for; everything else backs off
// exponentially (2^n s).
const (
	maxTransportAttempts  = 5
	defaultRequestTimeout = 5 * time.Minute

	// retryAfterCap bounds how long a server-supplied wait is honored.
	retryAfterCap = 5 * time.Minute
)

// OpenAICompatible is a Client over any OpenAI-compatible endpoint.
// DeepSeek-style providers deliver reasoning through the
// reasoning_content delta field, which go-openai surfaces directly.
type OpenAICompatible struct {
	client       *openai.Client
	defaultModel string
	vision       bool
	timeout      time.Duration
	retryAfter   *retryAfterTransport
}

// ProviderConfig configures one concrete provider endpoint.
type ProviderConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Vision       bool

	// RequestTimeout bounds a single completion call. Zero falls back
	// to the built-in default.
	RequestTimeout time.Duration
}

// NewOpenAICompatible builds a client for the given endpoint.
func NewOpenAICompatible(cfg ProviderConfig) (*OpenAICompatible, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	rt := &retryAfterTransport{base: http.DefaultTransport}
	oc.HTTPClient = &http.Client{Transport: rt}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &OpenAICompatible{
		client:       openai.NewClientWithConfig(oc),
		defaultModel: cfg.DefaultModel,
		vision:       cfg.Vision,
		timeout:      timeout,
		retryAfter:   rt,
	}, nil
}

// retryAfterTransport records the Retry-After header of throttled or
// failing responses. The go-openai error types carry only the status
// code, so the header has to be captured at the transport before the
// response body is turned into an APIError.
type retryAfterTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	next time.Duration
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			t.mu.Lock()
			t.next = d
			t.mu.Unlock()
		}
	}
	return resp, err
}

// take returns the recorded wait and clears it, so a stale value never
// outlives the failure that produced it.
func (t *retryAfterTransport) take() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.next
	t.next = 0
	return d, d > 0
}

// parseRetryAfter accepts both forms the header allows: delta-seconds
// and an HTTP-date.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	}
	if d <= 0 {
		return 0, false
	}
	if d > retryAfterCap {
		d = retryAfterCap
	}
	return d, true
}

// SupportsVision reports the provider's OCR capability.
func (c *OpenAICompatible) SupportsVision() bool {
	return c.vision
}

// ChatCompletion runs one completion with transport retries. The final
// aggregate always reflects everything already delivered via onChunk.
func (c *OpenAICompatible) ChatCompletion(ctx context.Context, req Request, onChunk ChunkHandler) (*Result, error) {
	return concurrency.Retry(ctx, concurrency.RetryConfig{
		MaxAttempts: maxTransportAttempts,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    60 * time.Second,
		Retryable:   isRetryable,
		DelayFor: func(error) (time.Duration, bool) {
			return c.retryAfter.take()
		},
		OnError: func(err error, attempt int) {
			slog.Warn("LLM request failed", "attempt", attempt, "error", err)
		},
	}, func() (*Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if req.Stream {
			return c.stream(callCtx, req, onChunk)
		}
		return c.complete(callCtx, req, onChunk)
	})
}

func (c *OpenAICompatible) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if req.ThinkingBudget > 0 {
		// Reasoning providers meter thought tokens inside
		// max_completion_tokens, which covers the answer too and is
		// mutually exclusive with max_tokens.
		out.MaxCompletionTokens = req.ThinkingBudget + req.MaxTokens
		out.MaxTokens = 0
	}
	return out
}

func (c *OpenAICompatible) stream(ctx context.Context, req Request, onChunk ChunkHandler) (*Result, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("starting completion stream: %w", err)
	}
	defer stream.Close()

	var content, reasoning strings.Builder
	var filtered bool

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason == openai.FinishReasonContentFilter {
			filtered = true
		}
		delta := choice.Delta
		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
		}
		if onChunk != nil && (delta.ReasoningContent != "" || delta.Content != "") {
			onChunk(delta.ReasoningContent, delta.Content)
		}
	}

	return finishResult(content.String(), reasoning.String(), filtered)
}

func (c *OpenAICompatible) complete(ctx context.Context, req Request, onChunk ChunkHandler) (*Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	filtered := choice.FinishReason == openai.FinishReasonContentFilter

	// Synthesize the single-chunk stream for non-streaming calls.
	if onChunk != nil && (choice.Message.ReasoningContent != "" || choice.Message.Content != "") {
		onChunk(choice.Message.ReasoningContent, choice.Message.Content)
	}
	return finishResult(choice.Message.Content, choice.Message.ReasoningContent, filtered)
}

// finishResult applies the content-recovery and safety-filter contracts:
// empty content with surviving reasoning salvages the last fenced code
// block from the thought stream; a filtered response with nothing left
// raises a descriptive error.
func finishResult(content, reasoning string, filtered bool) (*Result, error) {
	if content == "" && reasoning != "" {
		if salvaged := prompt.ExtractLastCode(reasoning); salvaged != "" {
			content = "```\n" + salvaged + "```\n"
		}
	}
	if content == "" && reasoning == "" {
		if filtered {
			return nil, fmt.Errorf("%w: response blocked by provider content filter", ErrEmptyResponse)
		}
		return nil, ErrEmptyResponse
	}
	return &Result{Content: content, Reasoning: reasoning}, nil
}

// isRetryable classifies transport failures. API errors with 429/5xx are
// retryable; 4xx configuration problems are not. Anything that is not an
// APIError is treated as a connection-level failure and retried.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
