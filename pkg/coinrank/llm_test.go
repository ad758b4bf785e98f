package coinrank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer answers chat completions with the given contents in turn and
// records the number of messages in each request.
type chatServer struct {
	mu       sync.Mutex
	contents []string
	messages []int
}

func (c *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var req struct {
		Messages []json.RawMessage `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.messages = append(c.messages, len(req.Messages))

	content := c.contents[min(len(c.messages), len(c.contents))-1]
	body, _ := json.Marshal(content)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
  "id": "chatcmpl-test",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}],
  "usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
}`, body)
}

func newTestLLMSource(t *testing.T, srv *httptest.Server) *LLMSource {
	t.Helper()
	src, err := NewLLMSource(LLMConfig{
		Prompt:       "Is the sky blue?",
		OpenAIKey:    "test",
		OpenAIAPIURL: srv.URL,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return src
}

func TestLLMSource_Answer(t *testing.T) {
	chat := &chatServer{contents: []string{`{"outcome":"heads"}`}}
	srv := httptest.NewServer(chat)
	defer srv.Close()

	src := newTestLLMSource(t, srv)
	o, err := src.Observe(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Heads, o)
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, []int{1}, chat.messages)
}

func TestLLMSource_CorrectsInvalidAnswer(t *testing.T) {
	chat := &chatServer{contents: []string{"maybe", `{"outcome":"tails"}`}}
	srv := httptest.NewServer(chat)
	defer srv.Close()

	src := newTestLLMSource(t, srv)
	o, err := src.Observe(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Tails, o)
	// The retry carries the bad answer and a correction.
	assert.Equal(t, []int{1, 3}, chat.messages)
}

func TestLLMSource_GivesUp(t *testing.T) {
	chat := &chatServer{contents: []string{`{"outcome":"sideways"}`}}
	srv := httptest.NewServer(chat)
	defer srv.Close()

	src := newTestLLMSource(t, srv)
	_, err := src.Observe(context.Background())

	require.Error(t, err)
	assert.Len(t, chat.messages, llmMaxAttempts)
}

func TestLLMSource_RateLimitThenDeadEndpoint(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After-Ms", "1")
		w.Header().Set("X-Ratelimit-Reset-Tokens", "1ms")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down", "type": "tokens", "code": "rate_limit_exceeded"}}`)
	}))

	src := newTestLLMSource(t, srv)
	_, err := src.Observe(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no valid answer")
	assert.GreaterOrEqual(t, int(hits.Load()), llmMaxAttempts)

	srv.Close()

	// A transport failure after a 429 is not a rate limit.
	_, err = src.Observe(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unexpected error")
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited(&openai.Error{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isRateLimited(&openai.Error{StatusCode: http.StatusInternalServerError}))
	assert.False(t, isRateLimited(errors.New("connection refused")))
	assert.False(t, isRateLimited(nil))
}

func TestLLMSource_DryRun(t *testing.T) {
	newDry := func() *LLMSource {
		src, err := NewLLMSource(LLMConfig{
			Prompt: "Is the sky blue?",
			DryRun: true,
			Seed:   11,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		require.NoError(t, err)
		return src
	}
	a, b := newDry(), newDry()

	for range 50 {
		oa, err := a.Observe(context.Background())
		require.NoError(t, err)
		ob, err := b.Observe(context.Background())
		require.NoError(t, err)
		require.Equal(t, oa, ob)
	}
	assert.Equal(t, 50, a.Calls())
}

func TestLLMSource_TokenLimit(t *testing.T) {
	_, err := NewLLMSource(LLMConfig{
		Prompt:       "Is the sky blue?",
		OpenAIAPIURL: "http://localhost:1",
		TokenLimit:   4,
	})
	assert.ErrorContains(t, err, "more than the limit")
}

func TestLLMConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LLMConfig
		wantErr bool
	}{
		{name: "ok", cfg: LLMConfig{Prompt: "q", TokenLimit: 10, Temperature: 1, OpenAIKey: "k"}},
		{name: "custom url without key", cfg: LLMConfig{Prompt: "q", TokenLimit: 10, OpenAIAPIURL: "http://localhost"}},
		{name: "dry run without key", cfg: LLMConfig{Prompt: "q", TokenLimit: 10, DryRun: true}},
		{name: "empty prompt", cfg: LLMConfig{Prompt: "  ", TokenLimit: 10, OpenAIKey: "k"}, wantErr: true},
		{name: "no token limit", cfg: LLMConfig{Prompt: "q", OpenAIKey: "k"}, wantErr: true},
		{name: "hot temperature", cfg: LLMConfig{Prompt: "q", TokenLimit: 10, Temperature: 2.5, OpenAIKey: "k"}, wantErr: true},
		{name: "missing key", cfg: LLMConfig{Prompt: "q", TokenLimit: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseCoinResponse(t *testing.T) {
	o, err := parseCoinResponse(`{"outcome":"tails"}`)
	require.NoError(t, err)
	assert.Equal(t, Tails, o)

	_, err = parseCoinResponse(`heads`)
	assert.Error(t, err)
}

func TestResultSchema(t *testing.T) {
	schema := ResultSchema()
	require.NotNil(t, schema)

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id"`)
	assert.Contains(t, string(data), `"ranking"`)
}
