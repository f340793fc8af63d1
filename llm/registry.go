package llm

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
)

// ProviderConfig holds the credentials used to decide which providers can be
// constructed. It lives here rather than in config to avoid import cycles.
type ProviderConfig struct {
	AnthropicAPIKey  string
	AnthropicRegions bool // true when Bedrock regions are configured for some model
	GoogleAPIKey     string
	GoogleProject    string
	GoogleLocation   string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIOrg        string
}

// IsProviderConfigured checks if a provider has the required configuration,
// falling back to the environment for API keys.
func (c *ProviderConfig) IsProviderConfigured(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		// Bedrock relies on the ambient AWS credential chain
		return c.AnthropicRegions || firstNonEmpty(c.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY")) != ""
	case ProviderGoogle:
		return firstNonEmpty(c.GoogleAPIKey, os.Getenv("GOOGLE_API_KEY")) != "" ||
			firstNonEmpty(c.GoogleProject, os.Getenv("GOOGLE_CLOUD_PROJECT")) != ""
	case ProviderOpenAI:
		return firstNonEmpty(c.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY")) != ""
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Registry resolves model names to their configuration and provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	models    map[string]ModelConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelConfig),
	}
}

// RegisterProvider adds or replaces a provider under its Name.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// RegisterModel adds or replaces a model configuration.
func (r *Registry) RegisterModel(m ModelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// Provider returns the provider registered under name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve returns the configuration and provider for a model name.
func (r *Registry) Resolve(model string) (ModelConfig, Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.models[model]
	if !ok {
		return ModelConfig{}, nil, NewClientError(fmt.Sprintf("unknown model %q", model), nil)
	}
	p, ok := r.providers[cfg.Provider]
	if !ok {
		return ModelConfig{}, nil, NewClientError(fmt.Sprintf("model %q: provider %q is not configured", model, cfg.Provider), nil)
	}
	return cfg, p, nil
}

// Models lists the registered model names in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
