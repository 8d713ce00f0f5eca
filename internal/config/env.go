package config

import (
	"hash/fnv"
	"os"
	"strings"
)

// Secret environment variables. They fill the matching field only when the
// file leaves it empty.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvSerpAPIKey    = "SERPAPI_KEY"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// ApplyEnv fills empty secrets from the environment using lookup
// (os.LookupEnv when nil).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&cfg.Telegram.Token, EnvTelegramToken)
	fill(&cfg.LLM.APIKey, EnvOpenAIKey)
	fill(&cfg.Search.SerpAPIKey, EnvSerpAPIKey)
	fill(&cfg.Storage.Redis.Password, EnvRedisPassword)
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
