// Package llm is the model-provider client used for query embeddings,
// batch re-embedding and chat completions. It fronts langchaingo's OpenAI
// and Ollama backends with a per-call timeout, bounded retry, a circuit
// breaker and an outbound rate limit. Timeouts surface as
// domain.ErrProviderTimeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/pkg/fn"
	"github.com/ozgurozbekuk/asylumapp/pkg/resilience"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("llm: empty provider response")

// chatModel is the subset of llms.Model used for completions.
type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// embedder is the subset of embeddings.Embedder used here.
type embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Observer receives provider call outcomes.
type Observer interface {
	ProviderCall(op, outcome string)
	BreakerState(state int)
}

// Options tunes the call guards.
type Options struct {
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	Rate    resilience.LimiterOpts
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		Retry:   fn.DefaultRetry,
		Breaker: resilience.DefaultBreakerOpts,
		Rate:    resilience.LimiterOpts{Rate: 10, Burst: 20},
	}
}

// Client calls one provider's chat and embedding models.
type Client struct {
	provider string
	chat     chatModel
	emb      embedder
	opts     Options
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	observer Observer
	logger   *slog.Logger
}

func newClient(provider string, chat chatModel, emb embedder, opts Options, observer Observer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	c := &Client{
		provider: provider,
		chat:     chat,
		emb:      emb,
		opts:     opts,
		limiter:  resilience.NewLimiter(opts.Rate),
		observer: observer,
		logger:   logger,
	}

	bopts := opts.Breaker
	bopts.Counts = countsAgainstProvider
	bopts.OnStateChange = func(from, to resilience.State) {
		c.logger.Warn("llm: circuit breaker state changed",
			"provider", c.provider, "from", from.String(), "to", to.String())
		if c.observer != nil {
			c.observer.BreakerState(int(to))
		}
	}
	c.breaker = resilience.NewBreaker(bopts)

	ropts := opts.Retry
	ropts.Retryable = retryable
	ropts.OnRetry = func(attempt int, err error) {
		c.logger.Warn("llm: retrying provider call", "provider", c.provider, "attempt", attempt, "err", err)
	}
	c.opts.Retry = ropts
	return c
}

// Provider returns the configured provider name.
func (c *Client) Provider() string { return c.provider }

// Embed returns the embedding of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := c.call(ctx, "embed", func(ctx context.Context) error {
		v, err := c.emb.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return ErrEmptyResponse
		}
		vec = v
		return nil
	})
	return vec, err
}

// EmbedBatch returns one embedding per input text, in order. An empty input
// returns an empty result without calling the provider.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var vecs [][]float32
	err := c.call(ctx, "embed_batch", func(ctx context.Context) error {
		v, err := c.emb.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmptyResponse, len(v), len(texts))
		}
		vecs = v
		return nil
	})
	return vecs, err
}

// Complete generates a reply to messages. maxTokens <= 0 leaves the limit
// to the provider.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error) {
	content := fn.Map(messages, toMessageContent)
	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}

	var out string
	err := c.call(ctx, "complete", func(ctx context.Context) error {
		resp, err := c.chat.GenerateContent(ctx, content, callOpts...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		out = resp.Choices[0].Content
		return nil
	})
	return out, err
}

// call runs f under the rate limit, the breaker and retry, giving each
// attempt its own timeout.
func (c *Client) call(ctx context.Context, op string, f func(context.Context) error) error {
	start := time.Now()
	r := fn.Retry(ctx, c.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
			err := f(actx)
			if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %w", domain.ErrProviderTimeout, c.opts.Timeout, err)
			}
			return err
		})
		return fn.FromPair(struct{}{}, err)
	})

	_, err := r.Unwrap()
	outcome := outcomeOf(err)
	if c.observer != nil {
		c.observer.ProviderCall(op, outcome)
	}
	if err != nil {
		c.logger.Debug("llm: provider call failed",
			"provider", c.provider, "op", op, "outcome", outcome, "duration", time.Since(start), "err", err)
		return fmt.Errorf("llm: %s %s: %w", c.provider, op, err)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// retryable excludes failures another attempt cannot fix or that would
// stretch the caller's latency past one timeout.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrProviderTimeout) &&
		!errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func countsAgainstProvider(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func toMessageContent(m domain.ChatMessage) llms.MessageContent {
	var role schema.ChatMessageType
	switch m.Role {
	case domain.RoleSystem:
		role = schema.ChatMessageTypeSystem
	case domain.RoleAssistant:
		role = schema.ChatMessageTypeAI
	default:
		role = schema.ChatMessageTypeHuman
	}
	return llms.TextParts(role, m.Content)
}

// normalizeProvider lower-cases and trims a provider name.
func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
