package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const defaultTimeout = 5 * time.Minute

// OpenAI summarizes through any OpenAI-compatible chat completion API.
// Leave BaseURL empty for api.openai.com.
type OpenAI struct {
	APIKey         string `json:"api_key,omitempty"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url,omitempty"`
	System         string `json:"system,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`

	env handler.Env
}

func NewOpenAI(env handler.Env) handler.Handler {
	return &OpenAI{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  "gpt-4o-mini",
		env:    env.WithDefaults(),
	}
}

func (o *OpenAI) ID() string { return "openai" }

func (o *OpenAI) Validate() error {
	if o.APIKey == "" {
		return errors.New("api_key is required (or set OPENAI_API_KEY)")
	}
	if o.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

func (o *OpenAI) Summarize(ctx context.Context, _ model.Feed, entry model.FeedEntry, content string) string {
	log := o.env.Logger.Named("openai").With(zap.String("entry_id", entry.ID()))
	if err := o.Validate(); err != nil {
		log.Warn("openai summarizer is not configured", zap.Error(err))
		return ""
	}

	summary, err := o.complete(ctx, systemPrompt(o.System), handler.SummarizationPrompt(content))
	if err != nil {
		log.Warn("summarization failed", zap.Error(err))
		return ""
	}
	return summary
}

func (o *OpenAI) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(o.TimeoutSeconds))
	defer cancel()

	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	cfg.HTTPClient = withoutTimeout(o.env.HTTPClient)
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.Model,
		N:     1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model %q", o.Model)
	}

	return resp.Choices[0].Message.Content, nil
}

func systemPrompt(override string) string {
	if override != "" {
		return override
	}
	return handler.SummarizationSystemPrompt
}

// withoutTimeout copies c without its total timeout so the per-call context
// deadline bounds slow model responses instead.
func withoutTimeout(c *http.Client) *http.Client {
	if c == nil || c.Timeout == 0 {
		return c
	}
	clone := *c
	clone.Timeout = 0
	return &clone
}

func timeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultTimeout
}
