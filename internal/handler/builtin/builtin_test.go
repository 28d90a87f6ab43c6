package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

func TestRegistryCoversDefaults(t *testing.T) {
	r := Registry(handler.Env{})
	s := model.DefaultSettings()

	for key, role := range map[string]handler.Role{
		s.NotificationHandlerKey:     handler.RoleNotification,
		s.LLMHandlerKey:              handler.RoleLLM,
		s.ContentRetrievalHandlerKey: handler.RoleContent,
	} {
		got, ok := r.Role(key)
		require.True(t, ok, key)
		assert.Equal(t, role, got, key)
	}
}

func TestRegistryImplementsRoles(t *testing.T) {
	r := Registry(handler.Env{})
	for key, role := range r.Roles() {
		h, err := r.Default(key)
		require.NoError(t, err, key)

		switch role {
		case handler.RoleNotification:
			assert.Implements(t, (*handler.Notifier)(nil), h, key)
		case handler.RoleLLM:
			assert.Implements(t, (*handler.Summarizer)(nil), h, key)
		case handler.RoleContent:
			assert.Implements(t, (*handler.ContentRetriever)(nil), h, key)
		}
	}
}

func TestSummarizationAlias(t *testing.T) {
	r := Registry(handler.Env{})
	h, err := r.Default("null_summarization")
	require.NoError(t, err)
	assert.Equal(t, "null_llm", h.ID())
}

func TestKeysForRole(t *testing.T) {
	r := Registry(handler.Env{})
	assert.Equal(t, []string{"browser", "http"}, r.KeysFor(handler.RoleContent))
	assert.Equal(t, []string{"ntfy", "null_notification", "slack", "telegram"}, r.KeysFor(handler.RoleNotification))
}
