package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.RegisterProvider(&fakeProvider{name: ProviderAnthropic})
	r.RegisterModel(ModelConfig{Name: "sonnet", Provider: ProviderAnthropic})
	r.RegisterModel(ModelConfig{Name: "gemini", Provider: ProviderGoogle})

	cfg, p, err := r.Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.Name)
	assert.Equal(t, ProviderAnthropic, p.Name())

	_, _, err = r.Resolve("gemini")
	assert.True(t, IsClientError(err), "model whose provider is missing")

	_, _, err = r.Resolve("nope")
	assert.True(t, IsClientError(err))

	assert.Equal(t, []string{"gemini", "sonnet"}, r.Models())
}

func TestProviderConfig_IsProviderConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")

	empty := &ProviderConfig{}
	if empty.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should not be configured without API key or regions")
	}
	if empty.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should not be configured without API key")
	}
	if empty.IsProviderConfigured(ProviderGoogle) {
		t.Error("google should not be configured without API key or project")
	}

	bedrock := &ProviderConfig{AnthropicRegions: true}
	if !bedrock.IsProviderConfigured(ProviderAnthropic) {
		t.Error("anthropic should be configured when regions are set")
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	if !empty.IsProviderConfigured(ProviderOpenAI) {
		t.Error("openai should fall back to OPENAI_API_KEY")
	}

	vertex := &ProviderConfig{GoogleProject: "proj"}
	if !vertex.IsProviderConfigured(ProviderGoogle) {
		t.Error("google should be configured with a project")
	}
	if empty.IsProviderConfigured("ollama") {
		t.Error("unknown providers are never configured")
	}
}
