// Package llm provides the summarization handlers.
package llm

import (
	"context"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// Null disables summarization.
type Null struct{}

func NewNull(handler.Env) handler.Handler { return &Null{} }

func (*Null) ID() string { return "null_llm" }

func (*Null) Summarize(context.Context, model.Feed, model.FeedEntry, string) string { return "" }

// Dummy returns a fixed summary. Useful for testing a deployment end to end.
type Dummy struct{}

func NewDummy(handler.Env) handler.Handler { return &Dummy{} }

func (*Dummy) ID() string { return "dummy_llm" }

func (*Dummy) Summarize(context.Context, model.Feed, model.FeedEntry, string) string {
	return "cool story bro"
}
