package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Slack posts entries to a channel.
type Slack struct {
	Token       string            `json:"token,omitempty"`
	ChannelName string            `json:"channel_name"`
	Routing     map[string]string `json:"routing,omitempty"`
	APIURL      string            `json:"api_url,omitempty"`

	env handler.Env
}

func NewSlack(env handler.Env) handler.Handler {
	return &Slack{
		Token: os.Getenv("SLACK_API_TOKEN"),
		env:   env.WithDefaults(),
	}
}

func (s *Slack) ID() string { return "slack" }

func (s *Slack) Validate() error {
	if s.Token == "" {
		return errors.New("token is required (or set SLACK_API_TOKEN)")
	}
	if s.ChannelName == "" {
		return errors.New("channel_name is required")
	}
	return nil
}

func (s *Slack) Login(context.Context) error  { return nil }
func (s *Slack) Logout(context.Context) error { return nil }

func (s *Slack) client() *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(s.env.HTTPClient)}
	if s.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.APIURL))
	}
	return slack.New(s.Token, opts...)
}

// SlackMessage formats the mrkdwn text for an entry.
func SlackMessage(baseURL string, feed model.Feed, entry model.FeedEntry) string {
	return fmt.Sprintf("%s: <%s|%s>", feed.Name, handler.ReadLink(baseURL, entry), slackEscaper.Replace(entry.Title))
}

func (s *Slack) SendNotification(ctx context.Context, feed model.Feed, entry model.FeedEntry) error {
	channel := handler.RouteDestination(s.Routing, s.ChannelName, feed)
	s.env.Logger.Named("slack").Info("sending notification",
		zap.String("feed", feed.Name),
		zap.String("destination", feed.NotifyDestination),
		zap.String("channel", channel),
	)

	_, _, err := s.client().PostMessageContext(ctx, channel,
		slack.MsgOptionText(SlackMessage(s.env.BaseURL, feed, entry), false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
