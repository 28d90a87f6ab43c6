package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Telegram posts entries to a chat through a bot. Login opens the bot session;
// the session is reused until Logout.
type Telegram struct {
	Token       string           `json:"token,omitempty"`
	ChatID      int64            `json:"chat_id"`
	Routing     map[string]int64 `json:"routing,omitempty"`
	APIEndpoint string           `json:"api_endpoint,omitempty"`

	env handler.Env
	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(env handler.Env) handler.Handler {
	return &Telegram{
		Token: os.Getenv("TELEGRAM_BOT_TOKEN"),
		env:   env.WithDefaults(),
	}
}

func (t *Telegram) ID() string { return "telegram" }

func (t *Telegram) Validate() error {
	if t.Token == "" {
		return errors.New("token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	if t.ChatID == 0 {
		return errors.New("chat_id is required")
	}
	return nil
}

func (t *Telegram) Login(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.login()
}

func (t *Telegram) login() error {
	if t.bot != nil {
		return nil
	}
	if t.Token == "" {
		return errors.New("telegram token is not configured")
	}

	endpoint := t.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.Token, endpoint, t.env.HTTPClient)
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}

	t.env.Logger.Named("telegram").Info("telegram session opened", zap.String("bot", bot.Self.UserName))
	t.bot = bot
	return nil
}

func (t *Telegram) Logout(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = nil
	return nil
}

func (t *Telegram) SendNotification(_ context.Context, feed model.Feed, entry model.FeedEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.login(); err != nil {
		return err
	}

	chatID := handler.RouteDestination(t.Routing, t.ChatID, feed)
	t.env.Logger.Named("telegram").Info("sending notification",
		zap.String("feed", feed.Name),
		zap.String("destination", feed.NotifyDestination),
		zap.Int64("chat_id", chatID),
	)

	title := tgbotapi.EscapeText(tgbotapi.ModeMarkdown, entry.Title)
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s: [%s](%s)", feed.Name, title, handler.ReadLink(t.env.BaseURL, entry)))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
