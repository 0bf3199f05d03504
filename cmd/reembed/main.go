// Command reembed recomputes every chunk embedding of a sector with the
// configured provider and writes the vectors back in place. Run it after
// changing LLM_PROVIDER or the embedding model.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ozgurozbekuk/asylumapp/engine/cache"
	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/semantic"
	"github.com/ozgurozbekuk/asylumapp/pkg/config"
	"github.com/ozgurozbekuk/asylumapp/pkg/llm"
	"github.com/ozgurozbekuk/asylumapp/pkg/repo"
)

func main() {
	var (
		sector  = flag.String("sector", domain.DefaultSector, "sector to re-embed")
		workers = flag.Int("workers", 2, "concurrent embedding requests")
		keep    = flag.Bool("keep-cache", false, "do not clear the retrieval cache afterwards")
	)
	flag.Parse()

	cfg, err := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		logger.Error("qdrant connect", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := llm.DefaultOptions()
	opts.Timeout = cfg.ProviderTimeout
	client, err := llm.New(cfg.LLM, opts, nil, logger)
	if err != nil {
		logger.Error("provider", "err", err)
		os.Exit(1)
	}

	r := &reembedder{store: store, embedder: client, batchSize: cfg.ReembedBatchSize, workers: *workers, logger: logger}
	sum, err := r.run(ctx, *sector)
	if err != nil {
		logger.Error("re-embed failed", "err", err, "seen", sum.Seen, "embedded", sum.Embedded)
		os.Exit(1)
	}

	if !*keep {
		n, err := clearCache(ctx, cfg)
		if err != nil {
			logger.Warn("retrieval cache not cleared", "backend", cfg.CacheBackend, "err", err)
		} else {
			logger.Info("retrieval cache cleared", "backend", cfg.CacheBackend, "removed", n)
		}
	}
	logger.Info("re-embed complete", "provider", client.Provider(), "sector", *sector,
		"seen", sum.Seen, "embedded", sum.Embedded, "skipped", sum.Skipped)
}

// clearCache empties the configured retrieval cache. The in-process memory
// cache lives in the API server and is not reachable from here.
func clearCache(ctx context.Context, cfg config.Config) (int, error) {
	switch cfg.CacheBackend {
	case config.CacheSQLite:
		db, err := repo.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		return cache.NewSQLite(db).Clear(ctx)
	case config.CacheNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("asylum-reembed"))
		if err != nil {
			return 0, err
		}
		defer nc.Close()
		js, err := jetstream.New(nc)
		if err != nil {
			return 0, err
		}
		c, err := cache.NewJetStream(ctx, js, cache.DefaultBucket, cfg.CacheTTL)
		if err != nil {
			return 0, err
		}
		return c.Clear(ctx)
	default:
		return 0, nil
	}
}
