package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDefaults verifies default values when the file only supplies the API key.
func TestDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeTempConfig(t, "anthropic:\n  api_key: test-key\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "nomic-embed-text", cfg.Ollama.EmbedModel)
	assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	assert.Equal(t, 2048, cfg.Reasoning.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Worker.PollInterval)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, time.Hour, cfg.Worker.StaleAfter)
	assert.Equal(t, 6*time.Hour, cfg.Orchestrator.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Learning.Window)
	assert.True(t, cfg.Learning.AutoApply)
	assert.False(t, cfg.Usage.HardCap)
	assert.Equal(t, "test-key", cfg.Anthropic.APIKey)
}

func TestFileOverridesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeTempConfig(t, `
reasoning:
  provider: ollama
worker:
  poll_interval: 30s
  batch_size: 4
memory:
  backend: chromem
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Reasoning.Provider)
	assert.Equal(t, 30*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 4, cfg.Worker.BatchSize)
	assert.Equal(t, "chromem", cfg.Memory.Backend)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, "reasoning:\n  provider: ollama\nserver:\n  port: 9000\n")
	t.Setenv("MARKETINGD_SERVER_PORT", "9100")
	t.Setenv("MARKETINGD_USAGE_HARD_CAP", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Usage.HardCap)
}

func TestAnthropicKeyFromEnv(t *testing.T) {
	path := writeTempConfig(t, "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Anthropic.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cases := map[string]string{
		"missing key":      "reasoning:\n  provider: anthropic\n",
		"unknown provider": "reasoning:\n  provider: openai\n",
		"unknown backend":  "reasoning:\n  provider: ollama\nmemory:\n  backend: qdrant\n",
		"zero batch":       "reasoning:\n  provider: ollama\nworker:\n  batch_size: 0\n",
		"negative window":  "reasoning:\n  provider: ollama\nlearning:\n  window: -1h\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := Config{Anthropic: AnthropicConfig{APIKey: "sk-secret"}, Server: ServerConfig{AuthToken: "tok"}}
	for _, k := range ShowAll(cfg) {
		assert.NotEqual(t, "anthropic.api_key", k.Key)
		assert.NotEqual(t, "server.auth_token", k.Key)
		assert.NotContains(t, k.Value, "sk-secret")
	}
}

func TestShowAllEnvNames(t *testing.T) {
	for _, k := range ShowAll(Config{}) {
		if k.Key == "worker.poll_interval" {
			assert.Equal(t, "MARKETINGD_WORKER_POLL_INTERVAL", k.EnvVar)
			return
		}
	}
	t.Fatal("worker.poll_interval missing from ShowAll")
}

func TestSetKeyRoundTrip(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SetKey(path, "reasoning.provider", "ollama"))
	require.NoError(t, SetKey(path, "worker.batch_size", "3"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Reasoning.Provider)
	assert.Equal(t, 3, cfg.Worker.BatchSize)
}

func TestSetKeyRejectsSecretsAndUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Error(t, SetKey(path, "anthropic.api_key", "x"))
	assert.Error(t, SetKey(path, "nope.key", "x"))
}
