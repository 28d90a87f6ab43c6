// Package notify provides the notification handlers.
package notify

import (
	"context"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Null drops every notification.
type Null struct{}

func NewNull(handler.Env) handler.Handler { return &Null{} }

func (*Null) ID() string { return "null_notification" }

func (*Null) Login(context.Context) error  { return nil }
func (*Null) Logout(context.Context) error { return nil }

func (*Null) SendNotification(context.Context, model.Feed, model.FeedEntry) error { return nil }
