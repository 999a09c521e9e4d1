package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ollama", cfg.Provider.Default)
	assert.Equal(t, []string{"ollama", "groq", "openai"}, cfg.Provider.FallbackOrder)
	assert.True(t, cfg.AutoFallback())
	assert.Equal(t, 60*time.Second, cfg.Provider.AvailabilityTTL)
	assert.Equal(t, 20, cfg.Provider.RateLimitCalls)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.True(t, cfg.SandboxEnabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider.Default)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patcode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  default: groq
  auto_fallback: false
ollama:
  model: llama3.2:3b
agent:
  max_iterations: 8
  sandbox: false
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "groq", cfg.Provider.Default)
	assert.False(t, cfg.AutoFallback())
	assert.Equal(t, "llama3.2:3b", cfg.Ollama.Model)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.False(t, cfg.SandboxEnabled())
	// Unset fields keep their defaults.
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://10.0.0.5:11434")
	t.Setenv("PATCODE_PROVIDER", "openai")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("OPENAI_API_KEY", "sk_test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "openai", cfg.Provider.Default)
	assert.Equal(t, "gsk_test", cfg.GroqAPIKey)
	assert.Equal(t, "sk_test", cfg.OpenAIAPIKey)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  default: skynet\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown default provider "skynet"`)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
