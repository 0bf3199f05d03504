package main

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/ozgurozbekuk/asylumapp/engine/rag"
	"github.com/ozgurozbekuk/asylumapp/pkg/natsutil"
)

const defaultFlaggedSubject = "asylum.answers.flagged"

// flagNotifier publishes flagged answers for human review.
type flagNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

func newFlagNotifier(nc *nats.Conn, subject string, logger *slog.Logger) *flagNotifier {
	if subject == "" {
		subject = defaultFlaggedSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &flagNotifier{nc: nc, subject: subject, logger: logger}
}

// NotifyFlagged publishes ev. A closed connection is reported as an error.
func (n *flagNotifier) NotifyFlagged(ctx context.Context, ev rag.FlaggedAnswer) error {
	if err := natsutil.Publish(ctx, n.nc, n.subject, ev); err != nil {
		return err
	}
	n.logger.Debug("flagged answer published", "subject", n.subject, "flags", ev.Flags)
	return nil
}
