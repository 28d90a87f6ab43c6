// Package builtin populates a handler registry with every shipped handler.
package builtin

import (
	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/handler/content"
	"github.com/bryan-buckman/rssynthesis/internal/handler/llm"
	"github.com/bryan-buckman/rssynthesis/internal/handler/notify"
)

// Registry returns a registry holding all built-in handlers bound to env.
func Registry(env handler.Env) *handler.Registry {
	r := handler.NewRegistry(env)

	r.Register(handler.RoleNotification, "null_notification", notify.NewNull)
	r.Register(handler.RoleNotification, "telegram", notify.NewTelegram)
	r.Register(handler.RoleNotification, "ntfy", notify.NewNtfy)
	r.Register(handler.RoleNotification, "slack", notify.NewSlack)

	r.Register(handler.RoleLLM, "null_llm", llm.NewNull)
	r.Register(handler.RoleLLM, "null_summarization", llm.NewNull)
	r.Register(handler.RoleLLM, "dummy_llm", llm.NewDummy)
	r.Register(handler.RoleLLM, "openai", llm.NewOpenAI)
	r.Register(handler.RoleLLM, "ollama", llm.NewOllama)

	r.Register(handler.RoleContent, "http", content.NewHTTPRetriever)
	r.Register(handler.RoleContent, "browser", content.NewBrowserRetriever)

	return r
}
