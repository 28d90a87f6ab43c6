package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Ollama summarizes with a model served by an Ollama instance.
type Ollama struct {
	BaseURL        string         `json:"base_url"`
	Model          string         `json:"model"`
	System         string         `json:"system,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`

	env handler.Env
}

func NewOllama(env handler.Env) handler.Handler {
	return &Ollama{env: env.WithDefaults()}
}

func (o *Ollama) ID() string { return "ollama" }

func (o *Ollama) Validate() error {
	if o.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(o.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if o.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

func (o *Ollama) Summarize(ctx context.Context, _ model.Feed, entry model.FeedEntry, content string) string {
	log := o.env.Logger.Named("ollama").With(zap.String("entry_id", entry.ID()))
	if err := o.Validate(); err != nil {
		log.Warn("ollama summarizer is not configured", zap.Error(err))
		return ""
	}

	summary, err := o.chat(ctx, systemPrompt(o.System), handler.SummarizationPrompt(content))
	if err != nil {
		log.Warn("summarization failed", zap.Error(err))
		return ""
	}
	return summary
}

func (o *Ollama) chat(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(o.TimeoutSeconds))
	defer cancel()

	base, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	client := api.NewClient(base, withoutTimeout(o.env.HTTPClient))

	stream := false
	req := &api.ChatRequest{
		Model: o.Model,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Options: o.Options,
		Stream:  &stream,
	}

	var out strings.Builder
	err = client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	return out.String(), nil
}
