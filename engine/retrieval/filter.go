package retrieval

import (
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// ChunkFilter is the eligibility predicate for one request. Stores translate
// it into their own query language; Matches is the reference semantics.
type ChunkFilter struct {
	// Sector is always required to match.
	Sector string
	// Source narrows to a single metadata source when non-empty.
	Source string
	// Owner is the only owner whose private chunks may match.
	Owner string
	// AllowPublic admits chunks that have no owner.
	AllowPublic bool
}

// BuildFilter derives the filter for a scope.
//
//	no source filter, owner:      public + owner's private chunks
//	no source filter, anonymous:  public only
//	public source filter:         that source, same ownership rules
//	private source filter:        that source, owner's chunks only
func BuildFilter(scope domain.Scope) ChunkFilter {
	f := ChunkFilter{
		Sector:      scope.Sector,
		Source:      strings.TrimSpace(scope.SourceFilter),
		Owner:       scope.OwnerID,
		AllowPublic: true,
	}
	if domain.IsPrivateSource(f.Source) {
		f.Source = domain.SourceUserUpload
		f.AllowPublic = false
	}
	return f
}

// Empty reports whether no chunk can ever match.
func (f ChunkFilter) Empty() bool {
	return !f.AllowPublic && f.Owner == ""
}

// Matches reports whether c is eligible under f.
func (f ChunkFilter) Matches(c domain.Chunk) bool {
	if c.Sector != f.Sector {
		return false
	}
	if f.Source != "" && !strings.EqualFold(c.Metadata.Source, f.Source) {
		return false
	}
	if !c.Metadata.Private() {
		return f.AllowPublic
	}
	return f.Owner != "" && c.Metadata.Owner == f.Owner
}
