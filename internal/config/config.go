package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MARKETINGD"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Ollama       OllamaConfig       `mapstructure:"ollama"`
	Reasoning    ReasoningConfig    `mapstructure:"reasoning"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Learning     LearningConfig     `mapstructure:"learning"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	AuthToken string `mapstructure:"auth_token"`
	MCPStdio  bool   `mapstructure:"mcp_stdio"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type OllamaConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	ChatModel  string `mapstructure:"chat_model"`
	EmbedModel string `mapstructure:"embed_model"`
}

// ReasoningConfig selects the text-completion backend used for planning and insights.
type ReasoningConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type EmbeddingConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MemoryConfig struct {
	Backend string `mapstructure:"backend"`
}

type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type OrchestratorConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	TrendLimit int           `mapstructure:"trend_limit"`
}

type LearningConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Window    time.Duration `mapstructure:"window"`
	AutoApply bool          `mapstructure:"auto_apply"`
}

// UsageConfig controls quota enforcement. HardCap makes the content quota a
// single compare-and-increment instead of check-then-increment.
type UsageConfig struct {
	HardCap bool `mapstructure:"hard_cap"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.mcp_stdio", false)

	v.SetDefault("storage.data_dir", defaultDataDir())

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.chat_model", "llama3.1")
	v.SetDefault("ollama.embed_model", "nomic-embed-text")

	v.SetDefault("reasoning.provider", "anthropic")
	v.SetDefault("reasoning.model", "claude-haiku-4-5-20251001")
	v.SetDefault("reasoning.max_tokens", 2048)
	v.SetDefault("reasoning.timeout", 90*time.Second)

	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("embedding.timeout", 15*time.Second)

	v.SetDefault("memory.backend", "sqlite")

	v.SetDefault("worker.poll_interval", 2*time.Minute)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.stale_after", time.Hour)

	v.SetDefault("orchestrator.interval", 6*time.Hour)
	v.SetDefault("orchestrator.trend_limit", 5)

	v.SetDefault("learning.interval", time.Hour)
	v.SetDefault("learning.window", 24*time.Hour)
	v.SetDefault("learning.auto_apply", true)

	v.SetDefault("usage.hard_cap", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional YAML file and
// MARKETINGD_* environment variables, in increasing order of precedence.
//
// When path is empty the file is looked up as config.yaml in
// $HOME/.marketingd and the working directory; a missing file is not an error.
// ANTHROPIC_API_KEY is honored for anthropic.api_key.
func Load(path string) (Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultDataDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", envPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

// Validate checks that required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	switch c.Reasoning.Provider {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("missing required config: Anthropic API key. Set ANTHROPIC_API_KEY or %s_ANTHROPIC_API_KEY", envPrefix)
		}
	case "ollama":
	default:
		return fmt.Errorf("reasoning.provider must be \"anthropic\" or \"ollama\", got %q", c.Reasoning.Provider)
	}
	switch c.Memory.Backend {
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("memory.backend must be \"sqlite\" or \"chromem\", got %q", c.Memory.Backend)
	}
	if c.Reasoning.MaxTokens <= 0 {
		return fmt.Errorf("reasoning.max_tokens must be greater than 0")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be greater than 0")
	}
	for key, d := range map[string]time.Duration{
		"reasoning.timeout":     c.Reasoning.Timeout,
		"embedding.timeout":     c.Embedding.Timeout,
		"worker.poll_interval":  c.Worker.PollInterval,
		"worker.stale_after":    c.Worker.StaleAfter,
		"orchestrator.interval": c.Orchestrator.Interval,
		"learning.interval":     c.Learning.Interval,
		"learning.window":       c.Learning.Window,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marketingd"
	}
	return filepath.Join(home, ".marketingd")
}
