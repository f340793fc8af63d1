package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/review/llm"
	"github.com/aschepis/backscratcher/review/review"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig represents configuration for the Anthropic provider.
// Bedrock credentials come from the AWS default chain.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`  // Direct API key, used for models without regions
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
}

// GoogleConfig represents configuration for the Gemini provider.
type GoogleConfig struct {
	APIKey   string `yaml:"api_key,omitempty"`  // Gemini API key
	Project  string `yaml:"project,omitempty"`  // Vertex AI project; takes precedence over APIKey
	Location string `yaml:"location,omitempty"` // Vertex AI location
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	File   string `yaml:"file,omitempty"`   // Log file path; empty logs to stderr
	Pretty bool   `yaml:"pretty,omitempty"` // Human-readable console output
}

// ServerConfig represents the configuration of the review LLM layer.
type ServerConfig struct {
	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Google    GoogleConfig    `yaml:"google,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	// Models maps a model name to its configuration. The map key is used as
	// the model name when the entry does not set one.
	Models map[string]*llm.ModelConfig `yaml:"models,omitempty"`

	Retry             review.RetryPolicy `yaml:"retry,omitempty"`
	TokenLimitDefault int                `yaml:"token_limit_default,omitempty"`
	Logging           LoggingConfig      `yaml:"logging,omitempty"`
}

// GetServerConfigPath returns the default server config file path.
// Can be overridden via REVIEW_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("REVIEW_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.reviewllm/config.yaml"
	}
	return filepath.Join(homeDir, ".reviewllm", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// SaveServerConfig saves the server configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write file
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func float64Ptr(v float64) *float64 {
	return &v
}

// DefaultServerConfig returns the built-in configuration that a config file
// is merged onto.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Retry: review.RetryPolicy{
			MaxRetry: review.DefaultMaxRetry,
			Backoff:  review.DefaultRetryBackoff,
		},
		TokenLimitDefault: llm.DefaultInputTokensLimit,
		Models: map[string]*llm.ModelConfig{
			"claude-sonnet-4": {
				Provider:               llm.ProviderAnthropic,
				MaxTokens:              8192,
				Version:                "bedrock-2023-05-31",
				PromptCachingSupported: true,
				InputTokensLimit:       180000,
				Temperature:            float64Ptr(0.5),
				Regions: []llm.RegionIdentifier{
					{Region: "us-east-1", ModelIdentifier: "us.anthropic.claude-sonnet-4-20250514-v1:0"},
					{Region: "us-west-2", ModelIdentifier: "us.anthropic.claude-sonnet-4-20250514-v1:0"},
				},
			},
			"gpt-4o": {
				Provider:         llm.ProviderOpenAI,
				MaxTokens:        16384,
				InputTokensLimit: 120000,
				Temperature:      float64Ptr(0.5),
			},
			"gemini-2.5-pro": {
				Provider:               llm.ProviderGoogle,
				MaxTokens:              16384,
				PromptCachingSupported: true,
				InputTokensLimit:       1000000,
				Thinking:               llm.ThinkingConfig{Enabled: true, BudgetTokens: 2048},
			},
		},
	}
}

// LoadServerConfig loads the server configuration. The file at path, when it
// exists, is merged over the defaults, then environment variables override
// provider credentials.
func LoadServerConfig(path string) (*ServerConfig, error) {
	// Step 1: Set defaults
	defaults := DefaultServerConfig()

	// Step 2: Merge user config file onto the result (if it exists)
	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		userConfigYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read user config file %q: %w", expandedPath, err)
		}

		var userConfig ServerConfig
		if err := yaml.Unmarshal(userConfigYAML, &userConfig); err != nil {
			return nil, fmt.Errorf("failed to parse user config: %w", err)
		}

		// Merge user config on top
		if err := mergo.Merge(&defaults, userConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge user config: %w", err)
		}
	}

	// Step 3: Environment variables win over both
	applyEnvOverrides(&defaults)

	// Apply smart defaults to models
	if defaults.Models == nil {
		defaults.Models = make(map[string]*llm.ModelConfig)
	}
	for name, modelCfg := range defaults.Models {
		if modelCfg == nil {
			delete(defaults.Models, name)
			continue
		}
		if modelCfg.Name == "" {
			modelCfg.Name = name
		}
		if modelCfg.MaxTokens == 0 {
			modelCfg.MaxTokens = 4096
		}
	}
	if defaults.Retry.MaxRetry <= 0 {
		defaults.Retry.MaxRetry = review.DefaultMaxRetry
	}
	if defaults.Retry.Backoff < 0 {
		defaults.Retry.Backoff = time.Duration(0)
	}

	return &defaults, nil
}

func applyEnvOverrides(cfg *ServerConfig) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey},
		{"OPENAI_API_KEY", &cfg.OpenAI.APIKey},
		{"OPENAI_BASE_URL", &cfg.OpenAI.BaseURL},
		{"OPENAI_ORG_ID", &cfg.OpenAI.Organization},
		{"GOOGLE_API_KEY", &cfg.Google.APIKey},
		{"GOOGLE_CLOUD_PROJECT", &cfg.Google.Project},
		{"GOOGLE_CLOUD_LOCATION", &cfg.Google.Location},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// ProviderConfig returns the credentials used to decide which providers can
// be constructed.
func (c *ServerConfig) ProviderConfig() *llm.ProviderConfig {
	hasRegions := false
	for _, m := range c.Models {
		if m != nil && m.Provider == llm.ProviderAnthropic && len(m.Regions) > 0 {
			hasRegions = true
			break
		}
	}
	return &llm.ProviderConfig{
		AnthropicAPIKey:  c.Anthropic.APIKey,
		AnthropicRegions: hasRegions,
		GoogleAPIKey:     c.Google.APIKey,
		GoogleProject:    c.Google.Project,
		GoogleLocation:   c.Google.Location,
		OpenAIAPIKey:     c.OpenAI.APIKey,
		OpenAIBaseURL:    c.OpenAI.BaseURL,
		OpenAIOrg:        c.OpenAI.Organization,
	}
}
