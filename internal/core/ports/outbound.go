package ports

import (
	"context"
	"time"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

// Retriever is the uniform contract over heterogeneous retrieval backends.
// Implementations must not mutate shared state, must return candidates sorted
// descending by raw score, and must return an empty slice (not an error) when
// nothing matches; errors are reserved for connectivity and timeout failures.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query domain.Query, topK int) ([]domain.ScoredUnit, error)
}

// ConceptExpansion is one synonym or code returned by the concept catalog for
// a detected query span.
type ConceptExpansion struct {
	Term string
	Code *domain.Code
}

// ConceptCatalog is the read-only vocabulary expansion collaborator. A failed
// lookup must never fail the surrounding query.
type ConceptCatalog interface {
	Expand(ctx context.Context, span string) ([]ConceptExpansion, error)
}

// IntentScorer is the pluggable statistical fallback behind the rule-based
// intent classifier. Guesses are returned sorted descending by confidence.
type IntentScorer interface {
	Score(ctx context.Context, canonical string) ([]domain.IntentGuess, error)
}

// QueryEmbedder produces the query-side dense vector. Document-side vectors
// are precomputed by the ingestion pipeline; this is the only embedding call
// the retrieval core makes.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RerankModel scores (query, candidate text) pairs with a cross-encoder style
// model. Scores align positionally with the input texts.
type RerankModel interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)
}

// UnitStore reads retrieval units and their document-local neighborhoods.
type UnitStore interface {
	GetUnits(ctx context.Context, ids []string) (map[string]domain.RetrievalUnit, error)
	// Neighbors returns all units of the document whose spans overlap the
	// [lo, hi) character window, sorted ascending by start offset.
	Neighbors(ctx context.Context, documentID string, lo, hi int) ([]domain.RetrievalUnit, error)
}

// CachedResult is the value stored per cache key.
type CachedResult struct {
	Passages []domain.Passage `json:"passages"`
	Warnings []string         `json:"warnings"`
	StoredAt time.Time        `json:"stored_at"`
}

// ResultCache is the only state shared across concurrent retrieve calls.
// Get returns (nil, nil) on a miss; implementations check TTL expiry at read
// time. Set is best-effort: a write failure must never fail the query.
type ResultCache interface {
	Get(ctx context.Context, key string) (*CachedResult, error)
	Set(ctx context.Context, key string, value CachedResult, ttl time.Duration) error
}

// VersionSource reports the active index/model generation tag. The tag is
// part of every cache key, so a generation change invalidates cached results
// without touching the cache itself.
type VersionSource interface {
	Current() string
}
