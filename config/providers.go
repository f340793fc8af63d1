package config

import (
	"github.com/aschepis/backscratcher/review/llm"
	llmanthropic "github.com/aschepis/backscratcher/review/llm/anthropic"
	llmgoogle "github.com/aschepis/backscratcher/review/llm/google"
	llmopenai "github.com/aschepis/backscratcher/review/llm/openai"
	"github.com/aschepis/backscratcher/review/review"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// NewAnthropicProvider creates the Anthropic provider from the configuration.
func NewAnthropicProvider(cfg *ServerConfig, logger zerolog.Logger) *llmanthropic.Provider {
	return llmanthropic.NewProvider(llmanthropic.Options{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Logger:  logger,
	})
}

// NewOpenAIProvider creates the OpenAI provider from the configuration.
func NewOpenAIProvider(cfg *ServerConfig, logger zerolog.Logger) *llmopenai.Provider {
	return llmopenai.NewProvider(llmopenai.Options{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
		Logger:       logger,
	})
}

// NewGoogleProvider creates the Gemini provider from the configuration.
func NewGoogleProvider(cfg *ServerConfig, logger zerolog.Logger) *llmgoogle.Provider {
	return llmgoogle.NewProvider(llmgoogle.Options{
		APIKey:   cfg.Google.APIKey,
		Project:  cfg.Google.Project,
		Location: cfg.Google.Location,
		Logger:   logger,
	})
}

// NewRegistry registers every configured provider, wrapped with logging
// middleware, and every model whose provider is available. Models of
// unconfigured providers are skipped with a warning.
func NewRegistry(cfg *ServerConfig, logger zerolog.Logger) *llm.Registry {
	registry := llm.NewRegistry()
	providerCfg := cfg.ProviderConfig()
	logging := review.NewLoggingMiddleware(logger)

	constructors := map[string]func() llm.Provider{
		llm.ProviderAnthropic: func() llm.Provider { return NewAnthropicProvider(cfg, logger) },
		llm.ProviderOpenAI:    func() llm.Provider { return NewOpenAIProvider(cfg, logger) },
		llm.ProviderGoogle:    func() llm.Provider { return NewGoogleProvider(cfg, logger) },
	}
	for _, name := range lo.Keys(constructors) {
		if !providerCfg.IsProviderConfigured(name) {
			logger.Debug().Str("provider", name).Msg("Provider not configured")
			continue
		}
		registry.RegisterProvider(llm.WrapWithMiddleware(constructors[name](), logging))
	}

	for name, modelCfg := range cfg.Models {
		if modelCfg == nil {
			continue
		}
		if _, ok := registry.Provider(modelCfg.Provider); !ok {
			logger.Warn().Str("model", name).Str("provider", modelCfg.Provider).Msg("Skipping model: provider not configured")
			continue
		}
		model := *modelCfg
		if model.Name == "" {
			model.Name = name
		}
		registry.RegisterModel(model)
	}
	return registry
}

// NewHandler creates a review handler that dispatches through registry with
// the configured retry policy and token limit.
func NewHandler(cfg *ServerConfig, registry *llm.Registry, logger zerolog.Logger) *review.Handler {
	validator := llm.NewTokenValidator(cfg.TokenLimitDefault, logger)
	return review.NewHandler(registry, validator, cfg.Retry, logger)
}
