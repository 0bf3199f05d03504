package llm

import (
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and configures a provider.
type Config struct {
	Provider string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIChatModel  string
	OpenAIEmbedModel string

	OllamaBaseURL    string
	OllamaChatModel  string
	OllamaEmbedModel string

	// EmbedBatchSize caps texts per embedding request.
	EmbedBatchSize int
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		Provider:         ProviderOpenAI,
		OpenAIChatModel:  "gpt-4.1-mini",
		OpenAIEmbedModel: "text-embedding-3-small",
		OllamaBaseURL:    "http://127.0.0.1:11434",
		OllamaChatModel:  "mistral",
		OllamaEmbedModel: "nomic-embed-text",
		EmbedBatchSize:   50,
	}
}

// New builds a Client for cfg.Provider.
func New(cfg Config, opts Options, observer Observer, logger *slog.Logger) (*Client, error) {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultConfig().EmbedBatchSize
	}
	switch p := normalizeProvider(cfg.Provider); p {
	case "", ProviderOpenAI:
		return newOpenAI(cfg, opts, observer, logger)
	case ProviderOllama:
		return newOllama(cfg, opts, observer, logger)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q (want %s or %s)", p, ProviderOpenAI, ProviderOllama)
	}
}

func newOpenAI(cfg Config, opts Options, observer Observer, logger *slog.Logger) (*Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY is required for provider %s", ProviderOpenAI)
	}
	oopts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.OpenAIChatModel),
		openai.WithEmbeddingModel(cfg.OpenAIEmbedModel),
	}
	if cfg.OpenAIBaseURL != "" {
		oopts = append(oopts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	model, err := openai.New(oopts...)
	if err != nil {
		return nil, fmt.Errorf("llm: openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(model, embeddings.WithBatchSize(cfg.EmbedBatchSize))
	if err != nil {
		return nil, fmt.Errorf("llm: openai embedder: %w", err)
	}
	return newClient(ProviderOpenAI, model, emb, opts, observer, logger), nil
}

func newOllama(cfg Config, opts Options, observer Observer, logger *slog.Logger) (*Client, error) {
	chat, err := ollama.New(ollama.WithServerURL(cfg.OllamaBaseURL), ollama.WithModel(cfg.OllamaChatModel))
	if err != nil {
		return nil, fmt.Errorf("llm: ollama chat client: %w", err)
	}
	embedModel, err := ollama.New(ollama.WithServerURL(cfg.OllamaBaseURL), ollama.WithModel(cfg.OllamaEmbedModel))
	if err != nil {
		return nil, fmt.Errorf("llm: ollama embed client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(embedModel, embeddings.WithBatchSize(cfg.EmbedBatchSize))
	if err != nil {
		return nil, fmt.Errorf("llm: ollama embedder: %w", err)
	}
	return newClient(ProviderOllama, chat, emb, opts, observer, logger), nil
}
