package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"delta seconds", "3", 3 * time.Second, true},
		{"zero seconds", "0", 0, false},
		{"negative seconds", "-5", 0, false},
		{"empty", "", 0, false},
		{"garbage", "soon", 0, false},
		{"capped", "9999", retryAfterCap, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tc.value)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("http date", func(t *testing.T) {
		d, ok := parseRetryAfter(time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat))
		require.True(t, ok)
		assert.Greater(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	})
	t.Run("past http date", func(t *testing.T) {
		_, ok := parseRetryAfter(time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
		assert.False(t, ok)
	})
}

func TestRetryAfterTransportCaptures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rt := &retryAfterTransport{base: http.DefaultTransport}
	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	d, ok := rt.take()
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
	// A second take finds nothing: the value is consumed with the failure.
	_, ok = rt.take()
	assert.False(t, ok)
}

func TestRetryAfterTransportIgnoresSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt := &retryAfterTransport{base: http.DefaultTransport}
	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, ok := rt.take()
	assert.False(t, ok)
}

func TestChatCompletionHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAICompatible(ProviderConfig{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		DefaultModel: "test-model",
	})
	require.NoError(t, err)

	start := time.Now()
	result, err := c.ChatCompletion(context.Background(), Request{Prompt: "hi"}, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)
	assert.Equal(t, int32(2), calls.Load())
	// The server asked for 1s; the generic schedule would have slept ~2s.
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 1700*time.Millisecond)
}

func TestChatCompletionStopsOnNonRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAICompatible(ProviderConfig{
		BaseURL:      srv.URL,
		APIKey:       "bad-key",
		DefaultModel: "test-model",
	})
	require.NoError(t, err)

	_, err = c.ChatCompletion(context.Background(), Request{Prompt: "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx configuration errors must not be retried")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, isRetryable(&openai.APIError{HTTPStatusCode: 503}))
	assert.False(t, isRetryable(&openai.APIError{HTTPStatusCode: 400}))
	assert.True(t, isRetryable(&openai.RequestError{HTTPStatusCode: 500}))
	assert.False(t, isRetryable(&openai.RequestError{HTTPStatusCode: 404}))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(errors.New("connection reset")))
}

func TestBuildRequestThinkingBudget(t *testing.T) {
	c := &OpenAICompatible{defaultModel: "test-model"}

	plain := c.buildRequest(Request{Prompt: "p", MaxTokens: 1000}, false)
	assert.Equal(t, 1000, plain.MaxTokens)
	assert.Zero(t, plain.MaxCompletionTokens)

	reasoning := c.buildRequest(Request{Prompt: "p", MaxTokens: 1000, ThinkingBudget: 4000}, false)
	assert.Equal(t, 5000, reasoning.MaxCompletionTokens)
	assert.Zero(t, reasoning.MaxTokens, "max_tokens may not be set alongside max_completion_tokens")
}

func TestBuildRequestMessages(t *testing.T) {
	c := &OpenAICompatible{defaultModel: "fallback-model"}

	r := c.buildRequest(Request{Prompt: "question", SystemPrompt: "rules"}, true)
	require.Len(t, r.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, r.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, r.Messages[1].Role)
	assert.Equal(t, "fallback-model", r.Model)
	assert.True(t, r.Stream)
}
