// Package main implements the asylum guidance API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ozgurozbekuk/asylumapp/engine/cache"
	"github.com/ozgurozbekuk/asylumapp/engine/conversation"
	"github.com/ozgurozbekuk/asylumapp/engine/memory"
	"github.com/ozgurozbekuk/asylumapp/engine/rag"
	"github.com/ozgurozbekuk/asylumapp/engine/rerank"
	"github.com/ozgurozbekuk/asylumapp/engine/retrieval"
	"github.com/ozgurozbekuk/asylumapp/engine/semantic"
	"github.com/ozgurozbekuk/asylumapp/pkg/config"
	"github.com/ozgurozbekuk/asylumapp/pkg/llm"
	"github.com/ozgurozbekuk/asylumapp/pkg/metrics"
	"github.com/ozgurozbekuk/asylumapp/pkg/mid"
	"github.com/ozgurozbekuk/asylumapp/pkg/repo"
	"github.com/ozgurozbekuk/asylumapp/pkg/resilience"
)

const purgeInterval = 10 * time.Minute

func main() {
	cfg, cfgErr := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Error("invalid configuration", "err", cfgErr)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// purger is implemented by cache backends that hold expired rows until
// asked to drop them.
type purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// --- SQLite: conversations and (optionally) the retrieval cache ---
	db, err := repo.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	convStore := conversation.NewStore(db)

	// --- NATS: flagged-answer events and (optionally) the retrieval cache ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("asylum-api"))
	if err != nil {
		if cfg.CacheBackend == config.CacheNATS {
			return fmt.Errorf("nats connect: %w", err)
		}
		logger.Warn("nats unavailable, flagged answers will not be published", "url", cfg.NATSURL, "err", err)
		nc = nil
	} else {
		defer nc.Drain()
	}

	retrievalCache, err := openCache(ctx, cfg, db, nc)
	if err != nil {
		return err
	}
	if p, ok := retrievalCache.(purger); ok {
		go purgeLoop(ctx, p, purgeInterval, logger)
	}

	// --- Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Provider ---
	llmOpts := llm.DefaultOptions()
	llmOpts.Timeout = cfg.ProviderTimeout
	llmClient, err := llm.New(cfg.LLM, llmOpts, m, logger)
	if err != nil {
		return err
	}

	// --- Answer pipeline ---
	retrOpts := retrieval.DefaultOptions()
	retrOpts.CacheTTL = cfg.CacheTTL
	deps := rag.Deps{
		Retriever:     retrieval.New(llmClient, vectorStore, retrievalCache, m, retrOpts, logger),
		Reranker:      rerank.New(rerank.DefaultOptions()),
		LLM:           llmClient,
		Conversations: convStore,
		Summarizer:    memory.New(convStore, llmClient, memory.DefaultOptions(), logger),
		Recorder:      m,
	}
	if nc != nil {
		deps.Notifier = newFlagNotifier(nc, cfg.FlaggedSubject, logger)
	}
	ragOpts := rag.DefaultOptions()
	ragOpts.DocIndexVersion = cfg.DocIndexVersion
	ragSvc := rag.New(deps, ragOpts, logger)

	// --- HTTP ---
	srv := newServer(ragSvc, convStore, logger)
	mux := http.NewServeMux()
	srv.routes(mux)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", m.Handler())
	}

	limiter := resilience.NewKeyedLimiter(resilience.PerWindow(cfg.RateLimitMax, cfg.RateLimitWindow), 0)
	handler := mid.Chain(mux,
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("asylum-api"),
		mid.RateLimit(limiter, cfg.RateLimitWindow, m.RateLimited),
		mid.Metrics(m),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting",
			"port", cfg.Port, "provider", llmClient.Provider(), "cache", cfg.CacheBackend)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// openCache returns the retrieval cache selected by cfg.CacheBackend.
func openCache(ctx context.Context, cfg config.Config, db *sql.DB, nc *nats.Conn) (retrieval.Cache, error) {
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return cache.NewMemory(), nil
	case config.CacheNATS:
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		return cache.NewJetStream(ctx, js, cache.DefaultBucket, cfg.CacheTTL)
	default:
		return cache.NewSQLite(db), nil
	}
}

func purgeLoop(ctx context.Context, p purger, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("retrieval cache purge failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("retrieval cache purged", "removed", n)
			}
		}
	}
}
