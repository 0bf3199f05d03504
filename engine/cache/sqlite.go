package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// SQLite stores entries in the retrieval_cache table created by pkg/repo.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps an opened, migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// Get returns the live entry stored under key.
func (s *SQLite) Get(ctx context.Context, key domain.CacheKey) (domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT normalized_query, items, expires_at
		FROM retrieval_cache
		WHERE owner_id = ? AND sector = ? AND source_filter = ? AND doc_index_version = ? AND fingerprint = ?
		  AND expires_at > ?`,
		key.OwnerID, key.Sector, key.SourceFilter, key.DocIndexVersion, key.Fingerprint,
		s.now().UnixMilli())

	var (
		normalized string
		items      string
		expiresAt  int64
	)
	if err := row.Scan(&normalized, &items, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}

	e := domain.CacheEntry{
		Key:             key,
		NormalizedQuery: normalized,
		ExpiresAt:       time.UnixMilli(expiresAt),
	}
	if err := json.Unmarshal([]byte(items), &e.Items); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("cache: sqlite decode items: %w", err)
	}
	if !e.Live(s.now()) {
		return domain.CacheEntry{}, false, nil
	}
	return e, true, nil
}

// Upsert inserts or replaces the entry in a single statement.
func (s *SQLite) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return fmt.Errorf("cache: sqlite encode items: %w", err)
	}
	k := entry.Key
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO retrieval_cache
			(owner_id, sector, source_filter, doc_index_version, fingerprint, normalized_query, items, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, sector, source_filter, doc_index_version, fingerprint) DO UPDATE SET
			normalized_query = excluded.normalized_query,
			items = excluded.items,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		k.OwnerID, k.Sector, k.SourceFilter, k.DocIndexVersion, k.Fingerprint,
		entry.NormalizedQuery, string(items), entry.ExpiresAt.UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache: sqlite upsert: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired rows and reports how many were removed.
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retrieval_cache WHERE expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite purge: %w", err)
	}
	return int(n), nil
}

// Clear deletes every row. Re-embedding calls it so no entry keeps scores
// computed against the previous vectors.
func (s *SQLite) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retrieval_cache")
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return int(n), nil
}
