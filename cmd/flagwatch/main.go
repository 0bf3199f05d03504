// Command flagwatch logs every answer the pipeline flagged for review.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/ozgurozbekuk/asylumapp/engine/rag"
	"github.com/ozgurozbekuk/asylumapp/pkg/config"
	"github.com/ozgurozbekuk/asylumapp/pkg/natsutil"
)

func main() {
	cfg, err := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("asylum-flagwatch"))
	if err != nil {
		logger.Error("nats connect", "url", cfg.NATSURL, "err", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := natsutil.Subscribe(nc, cfg.FlaggedSubject, logFlagged(logger))
	if err != nil {
		logger.Error("subscribe", "subject", cfg.FlaggedSubject, "err", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("watching flagged answers", "subject", cfg.FlaggedSubject)
	<-ctx.Done()
}

func logFlagged(logger *slog.Logger) func(context.Context, rag.FlaggedAnswer) {
	return func(ctx context.Context, ev rag.FlaggedAnswer) {
		logger.WarnContext(ctx, "flagged answer",
			"flags", ev.Flags,
			"owner_id", ev.OwnerID,
			"conversation_id", ev.ConversationID,
			"question", ev.Question,
			"answer", ev.Answer,
			"at", ev.At,
		)
	}
}
