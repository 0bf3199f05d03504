// Package retrieval finds the chunks most similar to a question within a
// request's scope. Results are served from a TTL-bounded cache when possible
// and computed by a full cosine scan over the scoped corpus otherwise.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore returns every chunk eligible under a filter.
type ChunkStore interface {
	Find(ctx context.Context, filter ChunkFilter) ([]domain.Chunk, error)
}

// Cache stores ranked candidate sets keyed by scope and fingerprint.
// Get reports ok=false for missing or expired entries.
type Cache interface {
	Get(ctx context.Context, key domain.CacheKey) (domain.CacheEntry, bool, error)
	Upsert(ctx context.Context, entry domain.CacheEntry) error
}

// Observer receives cache outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	CacheLookup(hit bool)
	CacheWriteFailed()
}

// Options configures the retriever.
type Options struct {
	TopK     int
	CacheTTL time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:     5,
		CacheTTL: 24 * time.Hour,
	}
}

// Retriever implements cache-then-compute similarity retrieval.
type Retriever struct {
	embedder Embedder
	chunks   ChunkStore
	cache    Cache
	observer Observer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Retriever. cache and observer may be nil.
func New(embedder Embedder, chunks ChunkStore, cache Cache, observer Observer, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	return &Retriever{
		embedder: embedder,
		chunks:   chunks,
		cache:    cache,
		observer: observer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Retrieve returns the top-K candidates for question in scope, sorted by
// descending vector score, and whether they came from the cache.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope domain.Scope) ([]domain.RankedCandidate, bool, error) {
	key, normalized := KeyFor(scope, question)

	if cached, ok := r.lookup(ctx, key); ok {
		return cached, true, nil
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, false, domain.ProviderError("embed", err)
	}

	filter := BuildFilter(scope)
	var chunks []domain.Chunk
	if !filter.Empty() {
		chunks, err = r.chunks.Find(ctx, filter)
		if err != nil {
			return nil, false, domain.NewStageError("chunk_store", err)
		}
	}
	if len(chunks) == 0 {
		return nil, false, domain.NewStageError("retrieve", domain.ErrRetrievalEmpty)
	}

	top := r.rank(vec, chunks)

	// A cancelled request must not commit a cache entry.
	if err := ctx.Err(); err != nil {
		return nil, false, domain.NewStageError("retrieve", err)
	}
	r.store(ctx, key, normalized, top)
	return top, false, nil
}

func (r *Retriever) lookup(ctx context.Context, key domain.CacheKey) ([]domain.RankedCandidate, bool) {
	if r.cache == nil {
		return nil, false
	}
	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("retrieval: cache read failed, computing", "err", err)
		ok = false
	}
	if ok && !entry.Live(r.now()) {
		ok = false
	}
	if r.observer != nil {
		r.observer.CacheLookup(ok)
	}
	if !ok {
		return nil, false
	}

	items := entry.Items
	if len(items) > r.opts.TopK {
		items = items[:r.opts.TopK]
	}
	out := make([]domain.RankedCandidate, len(items))
	for i, it := range items {
		out[i] = domain.RankedCandidate{
			ChunkID:     it.ChunkID,
			Text:        it.Text,
			Metadata:    it.Metadata,
			VectorScore: it.Score,
		}
	}
	return out, true
}

func (r *Retriever) rank(query []float32, chunks []domain.Chunk) []domain.RankedCandidate {
	scored := make([]domain.RankedCandidate, 0, len(chunks))
	mismatched := 0
	for _, c := range chunks {
		score, err := Cosine(query, c.Embedding)
		if err != nil {
			mismatched++
		}
		scored = append(scored, domain.RankedCandidate{
			ChunkID:     c.ID,
			Text:        c.Text,
			Metadata:    c.Metadata,
			VectorScore: score,
		})
	}
	if mismatched > 0 {
		r.logger.Debug("retrieval: chunks with mismatched dimensions scored 0",
			"count", mismatched, "query_dims", len(query))
	}

	slices.SortStableFunc(scored, func(a, b domain.RankedCandidate) int {
		return cmp.Compare(b.VectorScore, a.VectorScore)
	})
	if len(scored) > r.opts.TopK {
		scored = scored[:r.opts.TopK]
	}
	return scored
}

// store writes the candidate set to the cache. Failures are logged only.
func (r *Retriever) store(ctx context.Context, key domain.CacheKey, normalized string, top []domain.RankedCandidate) {
	if r.cache == nil {
		return
	}
	items := make([]domain.CacheItem, len(top))
	for i, c := range top {
		items[i] = domain.CacheItem{
			ChunkID:  c.ChunkID,
			Score:    c.VectorScore,
			Text:     c.Text,
			Metadata: c.Metadata,
		}
	}
	entry := domain.CacheEntry{
		Key:             key,
		NormalizedQuery: normalized,
		Items:           items,
		ExpiresAt:       r.now().Add(r.opts.CacheTTL),
	}
	if err := r.cache.Upsert(ctx, entry); err != nil {
		if r.observer != nil {
			r.observer.CacheWriteFailed()
		}
		r.logger.Warn("retrieval: cache write failed",
			"err", errors.Join(domain.ErrCacheWrite, err),
			"fingerprint", key.Fingerprint)
	}
}
