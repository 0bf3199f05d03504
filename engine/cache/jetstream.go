package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// DefaultBucket is the JetStream key/value bucket used for retrieval entries.
const DefaultBucket = "retrieval_cache"

// kv is the subset of jetstream.KeyValue used by the cache.
type kv interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error)
	Purge(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// JetStream stores entries in a NATS key/value bucket. The bucket keeps one
// revision per key and ages entries out after its TTL; ExpiresAt is still
// checked on read.
type JetStream struct {
	kv  kv
	now func() time.Time
}

// NewJetStream creates or updates bucket with the given TTL and returns a
// cache backed by it.
func NewJetStream(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*JetStream, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	store, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "retrieval cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create bucket %s: %w", bucket, err)
	}
	return newJetStream(store), nil
}

func newJetStream(store kv) *JetStream {
	return &JetStream{kv: store, now: time.Now}
}

// Get returns the live entry stored under key.
func (j *JetStream) Get(ctx context.Context, key domain.CacheKey) (domain.CacheEntry, bool, error) {
	kve, err := j.kv.Get(ctx, subject(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("cache: kv get: %w", err)
	}

	var e domain.CacheEntry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("cache: kv decode: %w", err)
	}
	if e.Key != key || !e.Live(j.now()) {
		return domain.CacheEntry{}, false, nil
	}
	return e, true, nil
}

// Upsert writes the entry as the key's only revision.
func (j *JetStream) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: kv encode: %w", err)
	}
	if _, err := j.kv.Put(ctx, subject(entry.Key), data); err != nil {
		return fmt.Errorf("cache: kv put: %w", err)
	}
	return nil
}

// Clear purges every entry in the bucket.
func (j *JetStream) Clear(ctx context.Context) (int, error) {
	lister, err := j.kv.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache: kv list: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	for i, k := range keys {
		if err := j.kv.Purge(ctx, k); err != nil {
			return i, fmt.Errorf("cache: kv purge %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// subject maps a key onto the bucket's key alphabet. The fingerprint already
// hashes every scope field, so it alone identifies the entry.
func subject(key domain.CacheKey) string {
	return "rc." + key.Fingerprint
}
