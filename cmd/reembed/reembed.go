package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/pkg/fn"
)

type chunkStore interface {
	Each(ctx context.Context, sector string, fn func([]domain.Chunk) error) error
	Upsert(ctx context.Context, chunks []domain.Chunk) error
}

type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Summary counts what a run did.
type Summary struct {
	Seen     int `json:"seen"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

type reembedder struct {
	store     chunkStore
	embedder  batchEmbedder
	batchSize int
	workers   int
	logger    *slog.Logger
}

// run re-embeds every chunk of sector in place. Chunks without text keep
// their old vector and are counted as skipped.
func (r *reembedder) run(ctx context.Context, sector string) (Summary, error) {
	var sum Summary
	err := r.store.Each(ctx, sector, func(page []domain.Chunk) error {
		sum.Seen += len(page)
		todo := fn.Filter(page, func(c domain.Chunk) bool { return strings.TrimSpace(c.Text) != "" })
		sum.Skipped += len(page) - len(todo)
		if len(todo) == 0 {
			return nil
		}

		batches := fn.Chunk(todo, r.batchSize)
		results := fn.ParMapResult(batches, r.workers, func(batch []domain.Chunk) fn.Result[[]domain.Chunk] {
			texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
			vecs, err := r.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[[]domain.Chunk](err)
			}
			if len(vecs) != len(batch) {
				return fn.Err[[]domain.Chunk](fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(batch)))
			}
			out := make([]domain.Chunk, len(batch))
			for i, c := range batch {
				c.Embedding = vecs[i]
				out[i] = c
			}
			return fn.Ok(out)
		})

		embedded, err := fn.Collect(results).Unwrap()
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		updated := fn.Flatten(embedded)
		if err := r.store.Upsert(ctx, updated); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		sum.Embedded += len(updated)
		r.logger.Info("re-embedded page", "sector", sector, "embedded", sum.Embedded, "seen", sum.Seen)
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("reembed %s: %w", sector, err)
	}
	return sum, nil
}
