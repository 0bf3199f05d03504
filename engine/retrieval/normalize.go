package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// anonymousOwner stands in for a missing owner in fingerprints.
const anonymousOwner = "anon"

// NormalizeQuery lower-cases text and collapses all whitespace runs.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint hashes the scope and normalized query into a cache key. Owners,
// sectors, source filters and index versions all separate the key space.
func Fingerprint(scope domain.Scope, normalizedQuery string) string {
	owner := scope.OwnerID
	if owner == "" {
		owner = anonymousOwner
	}
	input := strings.Join([]string{
		owner,
		scope.Sector,
		scope.SourceFilter,
		normalizedQuery,
		scope.DocIndexVersion,
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// KeyFor builds the cache key for a question within scope.
func KeyFor(scope domain.Scope, question string) (domain.CacheKey, string) {
	normalized := NormalizeQuery(question)
	return domain.CacheKey{
		OwnerID:         scope.OwnerID,
		Sector:          scope.Sector,
		SourceFilter:    scope.SourceFilter,
		DocIndexVersion: scope.DocIndexVersion,
		Fingerprint:     Fingerprint(scope, normalized),
	}, normalized
}
