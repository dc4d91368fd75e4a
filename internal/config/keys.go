package config

type keySpec struct {
	key     string
	secret  bool
	extract func(cfg Config) any
}

var specs = []keySpec{
	{key: "server.port", extract: func(cfg Config) any { return cfg.Server.Port }},
	{key: "server.auth_token", secret: true, extract: func(cfg Config) any { return cfg.Server.AuthToken }},
	{key: "server.mcp_stdio", extract: func(cfg Config) any { return cfg.Server.MCPStdio }},
	{key: "storage.data_dir", extract: func(cfg Config) any { return cfg.Storage.DataDir }},
	{key: "ollama.base_url", extract: func(cfg Config) any { return cfg.Ollama.BaseURL }},
	{key: "ollama.chat_model", extract: func(cfg Config) any { return cfg.Ollama.ChatModel }},
	{key: "ollama.embed_model", extract: func(cfg Config) any { return cfg.Ollama.EmbedModel }},
	{key: "reasoning.provider", extract: func(cfg Config) any { return cfg.Reasoning.Provider }},
	{key: "reasoning.model", extract: func(cfg Config) any { return cfg.Reasoning.Model }},
	{key: "reasoning.max_tokens", extract: func(cfg Config) any { return cfg.Reasoning.MaxTokens }},
	{key: "reasoning.timeout", extract: func(cfg Config) any { return cfg.Reasoning.Timeout }},
	{key: "anthropic.api_key", secret: true, extract: func(cfg Config) any { return cfg.Anthropic.APIKey }},
	{key: "embedding.timeout", extract: func(cfg Config) any { return cfg.Embedding.Timeout }},
	{key: "memory.backend", extract: func(cfg Config) any { return cfg.Memory.Backend }},
	{key: "worker.poll_interval", extract: func(cfg Config) any { return cfg.Worker.PollInterval }},
	{key: "worker.batch_size", extract: func(cfg Config) any { return cfg.Worker.BatchSize }},
	{key: "worker.stale_after", extract: func(cfg Config) any { return cfg.Worker.StaleAfter }},
	{key: "orchestrator.interval", extract: func(cfg Config) any { return cfg.Orchestrator.Interval }},
	{key: "orchestrator.trend_limit", extract: func(cfg Config) any { return cfg.Orchestrator.TrendLimit }},
	{key: "learning.interval", extract: func(cfg Config) any { return cfg.Learning.Interval }},
	{key: "learning.window", extract: func(cfg Config) any { return cfg.Learning.Window }},
	{key: "learning.auto_apply", extract: func(cfg Config) any { return cfg.Learning.AutoApply }},
	{key: "usage.hard_cap", extract: func(cfg Config) any { return cfg.Usage.HardCap }},
	{key: "log.level", extract: func(cfg Config) any { return cfg.Log.Level }},
	{key: "log.format", extract: func(cfg Config) any { return cfg.Log.Format }},
}

// envName returns the environment variable that overrides key.
func envName(key string) string {
	out := []byte(envPrefix + "_")
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '.':
			c = '_'
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
