// Package config loads assistant configuration from a YAML file with
// environment-variable overrides. API keys never live in the file; they
// come from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full assistant configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Agent    AgentConfig    `yaml:"agent"`

	// Keys are read from the environment, never from the file.
	GroqAPIKey   string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
}

// ProviderConfig selects and orders model providers.
type ProviderConfig struct {
	Default         string        `yaml:"default"`
	FallbackOrder   []string      `yaml:"fallback_order"`
	AutoFallback    *bool         `yaml:"auto_fallback"`
	AvailabilityTTL time.Duration `yaml:"availability_ttl"`
	RateLimitCalls  int           `yaml:"rate_limit_calls"`
	RateLimitPeriod time.Duration `yaml:"rate_limit_period"`
}

// OllamaConfig configures the local daemon adapter.
type OllamaConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	NumCtx      int           `yaml:"num_ctx"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// AgentConfig tunes the tool-use loop.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	MaxSteps      int    `yaml:"max_steps"`
	WorkingDir    string `yaml:"working_dir"`
	Sandbox       *bool  `yaml:"sandbox"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	autoFallback := true
	sandbox := true
	return &Config{
		Provider: ProviderConfig{
			Default:         "ollama",
			FallbackOrder:   []string{"ollama", "groq", "openai"},
			AutoFallback:    &autoFallback,
			AvailabilityTTL: 60 * time.Second,
			RateLimitCalls:  20,
			RateLimitPeriod: 60 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "qwen2.5-coder:7b",
			Timeout:     120 * time.Second,
			Temperature: 0.7,
			NumCtx:      8192,
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			MaxSteps:      10,
			Sandbox:       &sandbox,
		},
	}
}

// Load reads the config file at path, fills gaps with defaults, and
// applies environment overrides. A missing file is not an error; the
// defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("PATCODE_PROVIDER"); v != "" {
		c.Provider.Default = v
	}
	c.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
}

func (c *Config) validate() error {
	switch c.Provider.Default {
	case "ollama", "groq", "openai":
	default:
		return fmt.Errorf("config: unknown default provider %q", c.Provider.Default)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("config: agent.max_iterations must be at least 1")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("config: agent.max_steps must be at least 1")
	}
	return nil
}

// AutoFallback reports the effective auto-fallback setting.
func (c *Config) AutoFallback() bool {
	return c.Provider.AutoFallback == nil || *c.Provider.AutoFallback
}

// SandboxEnabled reports the effective sandbox setting.
func (c *Config) SandboxEnabled() bool {
	return c.Agent.Sandbox == nil || *c.Agent.Sandbox
}
