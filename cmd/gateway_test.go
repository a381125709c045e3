package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/config"
	"github.com/polychat-dev/polychat/internal/llm"
)

func newTestDispatcher() *llm.Dispatcher {
	return llm.NewDispatcher(nil, llm.DispatcherConfig{})
}

func TestBuildProvider_OpenAICompatible(t *testing.T) {
	for _, typ := range []string{"", "openai-compatible", "openai"} {
		p, err := buildProvider("primary", config.ProviderConfig{Type: typ, APIKey: "k", Endpoint: "https://example.test/v1"})
		require.NoError(t, err)
		assert.Equal(t, "primary", p.Name())
	}
}

func TestBuildProvider_UnsupportedType(t *testing.T) {
	_, err := buildProvider("primary", config.ProviderConfig{Type: "anthropic"})
	assert.Error(t, err)
}

func TestToolFlagsFrom(t *testing.T) {
	cfg := &config.Config{
		Tools: config.ToolsConfig{
			OpenWeatherMap:   config.ExternalServiceConfig{Enabled: true},
			YandexSearch:     config.ExternalServiceConfig{Enabled: false},
			Geocode:          config.ExternalServiceConfig{Enabled: true},
			ImageGen:         config.ImageGenConfig{Enabled: false},
			SummarizeModelID: "gpt-4o-mini",
		},
	}

	flags := toolFlagsFrom(cfg)

	assert.True(t, flags.Weather)
	assert.False(t, flags.Search)
	assert.True(t, flags.Geocode)
	assert.False(t, flags.Draw)
	assert.True(t, flags.Summarize)
	assert.True(t, flags.SetUserData)
	assert.True(t, flags.SetReminder)
}

func TestBindProviders_ResolvesFallbackByName(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"primary":  {Type: "openai", ModelID: "gpt-4o", APIKey: "k", Fallback: "backup"},
			"backup":   {Type: "openai", ModelID: "gpt-4o-mini", APIKey: "k2"},
			"orphaned": {Type: "openai", ModelID: "gpt-3.5", APIKey: "k3", Fallback: "missing"},
		},
	}

	dispatcher := newTestDispatcher()
	bindProviders(dispatcher, cfg)

	bindings := dispatcher.Bindings()
	byModel := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		byModel[b.ModelID] = b.HasFallback
	}

	assert.Contains(t, byModel, "gpt-4o", "primary binding should be registered")
	assert.Contains(t, byModel, "gpt-4o-mini", "backup binding should be registered")
	assert.Contains(t, byModel, "gpt-3.5", "orphaned binding should still register despite unknown fallback")

	require.Contains(t, byModel, "gpt-4o")
	assert.Equal(t, true, byModel["gpt-4o"])
	assert.Equal(t, false, byModel["gpt-3.5"], "unresolved fallback name should leave HasFallback false")
}
