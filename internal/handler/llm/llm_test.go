package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

var (
	testFeed  = model.NewFeed("Blog", "https://blog.test/rss")
	testEntry = model.FeedEntry{URL: "https://blog.test/1", Title: "One"}
)

func TestNullAndDummy(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, (&Null{}).Summarize(ctx, testFeed, testEntry, "text"))
	assert.Equal(t, "cool story bro", (&Dummy{}).Summarize(ctx, testFeed, testEntry, "text"))
}

func TestOpenAISummarize(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"a summary"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	h := NewOpenAI(handler.Env{Logger: zaptest.NewLogger(t)}).(*OpenAI)
	h.APIKey = "sk-test"
	h.BaseURL = srv.URL + "/v1"

	assert.Equal(t, "a summary", h.Summarize(context.Background(), testFeed, testEntry, "article body"))
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, handler.SummarizationSystemPrompt, got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "article body")
}

func TestOpenAIFailureReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewOpenAI(handler.Env{Logger: zaptest.NewLogger(t)}).(*OpenAI)
	h.APIKey = "sk-test"
	h.BaseURL = srv.URL + "/v1"

	assert.Empty(t, h.Summarize(context.Background(), testFeed, testEntry, "article body"))
}

func TestOpenAIUnconfiguredReturnsEmpty(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	h := NewOpenAI(handler.Env{Logger: zaptest.NewLogger(t)}).(*OpenAI)

	assert.Error(t, h.Validate())
	assert.Empty(t, h.Summarize(context.Background(), testFeed, testEntry, "article body"))
}

func TestOllamaSummarize(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"ollama summary"},"done":true}`))
	}))
	defer srv.Close()

	h := NewOllama(handler.Env{Logger: zaptest.NewLogger(t)}).(*Ollama)
	h.BaseURL = srv.URL
	h.Model = "llama3"
	h.System = "be brief"

	assert.Equal(t, "ollama summary", h.Summarize(context.Background(), testFeed, testEntry, "article body"))
	assert.Equal(t, "llama3", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "be brief", got.Messages[0].Content)
}

func TestOllamaValidate(t *testing.T) {
	h := NewOllama(handler.Env{}).(*Ollama)
	assert.Error(t, h.Validate())
	assert.Empty(t, h.Summarize(context.Background(), testFeed, testEntry, "x"))

	h.BaseURL = "http://localhost:11434"
	h.Model = "llama3"
	assert.NoError(t, h.Validate())
}

func slowServer(t *testing.T, delay time.Duration, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSummarizersOutliveSharedClientTimeout(t *testing.T) {
	client := &http.Client{Timeout: 100 * time.Millisecond}
	env := handler.Env{Logger: zaptest.NewLogger(t), HTTPClient: client}

	t.Run("ollama", func(t *testing.T) {
		srv := slowServer(t, 400*time.Millisecond,
			`{"model":"llama3","message":{"role":"assistant","content":"ollama summary"},"done":true}`)
		h := NewOllama(env).(*Ollama)
		h.BaseURL = srv.URL
		h.Model = "llama3"
		h.TimeoutSeconds = 300

		assert.Equal(t, "ollama summary", h.Summarize(context.Background(), testFeed, testEntry, "article body"))
	})

	t.Run("openai", func(t *testing.T) {
		srv := slowServer(t, 400*time.Millisecond,
			`{"id":"1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"openai summary"},"finish_reason":"stop"}]}`)
		h := NewOpenAI(env).(*OpenAI)
		h.APIKey = "sk-test"
		h.BaseURL = srv.URL + "/v1"
		h.TimeoutSeconds = 300

		assert.Equal(t, "openai summary", h.Summarize(context.Background(), testFeed, testEntry, "article body"))
	})

	assert.Equal(t, 100*time.Millisecond, client.Timeout)
}

func TestSummarizerTimeoutStillApplies(t *testing.T) {
	srv := slowServer(t, 2*time.Second,
		`{"model":"llama3","message":{"role":"assistant","content":"late"},"done":true}`)
	h := NewOllama(handler.Env{Logger: zaptest.NewLogger(t)}).(*Ollama)
	h.BaseURL = srv.URL
	h.Model = "llama3"
	h.TimeoutSeconds = 1

	assert.Empty(t, h.Summarize(context.Background(), testFeed, testEntry, "article body"))
}
