package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

const defaultNtfyRoot = "https://ntfy.sh/"

// Ntfy publishes entries to an ntfy topic.
type Ntfy struct {
	RootURL string            `json:"root_url"`
	Topic   string            `json:"topic"`
	Token   string            `json:"token,omitempty"`
	Routing map[string]string `json:"routing,omitempty"`

	env handler.Env
}

func NewNtfy(env handler.Env) handler.Handler {
	root := os.Getenv("NTFY_ROOT_URL")
	if root == "" {
		root = defaultNtfyRoot
	}
	return &Ntfy{
		RootURL: root,
		Topic:   os.Getenv("NTFY_TOPIC"),
		env:     env.WithDefaults(),
	}
}

func (n *Ntfy) ID() string { return "ntfy" }

func (n *Ntfy) Validate() error {
	if n.RootURL == "" {
		return errors.New("root_url is required")
	}
	if n.Topic == "" {
		return errors.New("topic is required (or set NTFY_TOPIC)")
	}
	return nil
}

func (n *Ntfy) Login(context.Context) error  { return nil }
func (n *Ntfy) Logout(context.Context) error { return nil }

type ntfyAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
}

type ntfyMessage struct {
	Topic   string       `json:"topic"`
	Title   string       `json:"title"`
	Tags    []string     `json:"tags"`
	Click   string       `json:"click"`
	Message string       `json:"message"`
	Actions []ntfyAction `json:"actions"`
}

func (n *Ntfy) SendNotification(ctx context.Context, feed model.Feed, entry model.FeedEntry) error {
	topic := handler.RouteDestination(n.Routing, n.Topic, feed)
	log := n.env.Logger.Named("ntfy")
	log.Info("sending notification",
		zap.String("feed", feed.Name),
		zap.String("destination", feed.NotifyDestination),
		zap.String("topic", topic),
	)

	link := handler.ReadLink(n.env.BaseURL, entry)
	body, err := json.Marshal(ntfyMessage{
		Topic:   topic,
		Title:   "rssynthesis: New Feed Entry",
		Tags:    []string{"newspaper"},
		Click:   link,
		Message: fmt.Sprintf("%s - %s", feed.Name, entry.Title),
		Actions: []ntfyAction{
			{Action: "view", Label: "Read in rssynthesis", URL: link},
			{Action: "view", Label: "View Original", URL: entry.URL},
		},
	})
	if err != nil {
		return fmt.Errorf("encode ntfy message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.RootURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	resp, err := n.env.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish to ntfy: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Debug("ntfy response", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ntfy returned %s", resp.Status)
	}
	return nil
}
