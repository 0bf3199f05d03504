package domain

import (
	"strings"
	"time"
)

// SourceUserUpload marks chunks extracted from a user's own uploaded documents.
const SourceUserUpload = "USER_UPLOAD"

// Chunk is a slice of source text with its embedding and provenance.
type Chunk struct {
	ID        string        `json:"id"`
	Sector    string        `json:"sector"`
	Language  string        `json:"language"`
	Text      string        `json:"text"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkMetadata is the provenance attached to a chunk at ingestion time.
type ChunkMetadata struct {
	Source      string   `json:"source,omitempty"`
	URL         string   `json:"url,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Title       string   `json:"title,omitempty"`
	HeadingPath []string `json:"heading_path,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	DocID       string   `json:"doc_id,omitempty"`
	PageStart   int      `json:"page_start,omitempty"`
	PageEnd     int      `json:"page_end,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
}

// Private reports whether the chunk belongs to a single owner.
func (m ChunkMetadata) Private() bool {
	return m.Owner != "" || IsPrivateSource(m.Source)
}

// AnyURL returns the first non-empty URL field.
func (m ChunkMetadata) AnyURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.SourceURL
}

// IsPrivateSource reports whether a source name denotes owner-scoped content.
func IsPrivateSource(source string) bool {
	return strings.EqualFold(strings.TrimSpace(source), SourceUserUpload)
}

// CacheKey identifies one retrieval cache entry.
type CacheKey struct {
	OwnerID         string `json:"owner_id,omitempty"`
	Sector          string `json:"sector"`
	SourceFilter    string `json:"source_filter,omitempty"`
	DocIndexVersion string `json:"doc_index_version"`
	Fingerprint     string `json:"fingerprint"`
}

// CacheItem is the persisted projection of a ranked candidate.
type CacheItem struct {
	ChunkID  string        `json:"chunk_id"`
	Score    float64       `json:"score"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// CacheEntry is a ranked candidate set stored under a CacheKey.
type CacheEntry struct {
	Key             CacheKey    `json:"key"`
	NormalizedQuery string      `json:"normalized_query"`
	Items           []CacheItem `json:"items"`
	ExpiresAt       time.Time   `json:"expires_at"`
}

// Live reports whether the entry is usable at now.
func (e CacheEntry) Live(now time.Time) bool {
	return len(e.Items) > 0 && now.Before(e.ExpiresAt)
}
