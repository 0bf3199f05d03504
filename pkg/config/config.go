// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ozgurozbekuk/asylumapp/pkg/llm"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheNATS   = "nats"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	LogLevel   slog.Level

	LLM             llm.Config
	ProviderTimeout time.Duration

	QdrantURL        string
	QdrantCollection string

	SQLitePath      string
	CacheBackend    string
	CacheTTL        time.Duration
	NATSURL         string
	FlaggedSubject  string
	DocIndexVersion string

	MetricsEnabled bool

	RateLimitMax    int
	RateLimitWindow time.Duration

	ReembedBatchSize int
}

// Load reads .env files (missing files are ignored; real environment
// variables win) and then the environment.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	var errs []string
	dur := func(key string, fallback time.Duration) time.Duration {
		v, err := durationOr(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	num := func(key string, fallback int) int {
		v, err := intOr(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	d := llm.DefaultConfig()
	cfg := Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		LogLevel:   parseLevel(envOr("LOG_LEVEL", "info")),
		LLM: llm.Config{
			Provider:         strings.ToLower(envOr("LLM_PROVIDER", d.Provider)),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
			OpenAIChatModel:  envOr("OPENAI_CHAT_MODEL", d.OpenAIChatModel),
			OpenAIEmbedModel: envOr("OPENAI_EMBED_MODEL", d.OpenAIEmbedModel),
			OllamaBaseURL:    envOr("OLLAMA_BASE_URL", d.OllamaBaseURL),
			OllamaChatModel:  envOr("OLLAMA_CHAT_MODEL", d.OllamaChatModel),
			OllamaEmbedModel: envOr("OLLAMA_EMBED_MODEL", d.OllamaEmbedModel),
			EmbedBatchSize:   d.EmbedBatchSize,
		},
		ProviderTimeout:  dur("PROVIDER_TIMEOUT", 30*time.Second),
		QdrantURL:        envOr("QDRANT_URL", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "asylum_chunks"),
		SQLitePath:       envOr("SQLITE_PATH", "data/asylum.db"),
		CacheBackend:     strings.ToLower(envOr("CACHE_BACKEND", CacheSQLite)),
		CacheTTL:         dur("CACHE_TTL", 24*time.Hour),
		NATSURL:          envOr("NATS_URL", "nats://localhost:4222"),
		FlaggedSubject:   envOr("FLAGGED_SUBJECT", "asylum.answers.flagged"),
		DocIndexVersion:  envOr("DOC_INDEX_VERSION", "v1"),
		MetricsEnabled:   envOr("METRICS_ENABLED", "true") == "true",
		RateLimitMax:     num("RATE_LIMIT_MAX_REQUESTS", 50),
		RateLimitWindow:  dur("RATE_LIMIT_WINDOW", time.Minute),
		ReembedBatchSize: num("REEMBED_BATCH_SIZE", 50),
	}
	cfg.LLM.EmbedBatchSize = cfg.ReembedBatchSize

	switch cfg.CacheBackend {
	case CacheMemory, CacheSQLite, CacheNATS:
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND %q: want memory, sqlite or nats", cfg.CacheBackend))
	}
	if cfg.RateLimitWindow < time.Second {
		cfg.RateLimitWindow = time.Second
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// durationOr accepts Go durations ("45s") or bare milliseconds ("45000").
func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback, fmt.Errorf("%s %q: not a positive duration", key, v)
	}
	return d, nil
}

func intOr(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback, fmt.Errorf("%s %q: not a positive integer", key, v)
	}
	return n, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
