package usecase

import "github.com/paul-heyse/medkg-retrieval/internal/core/domain"

// Deduplicate collapses near-duplicate passages per source document. Within
// one (document, facet type) group only the best-scoring passage survives;
// distinct facet types of the same document are always kept apart. The
// operation is idempotent and preserves the input ranking order of survivors.
func Deduplicate(passages []domain.Passage) []domain.Passage {
	type groupKey struct {
		documentID string
		facetType  string
	}

	best := make(map[groupKey]int, len(passages))
	for i, p := range passages {
		key := groupKey{documentID: p.DocumentID, facetType: p.FacetType}
		if j, ok := best[key]; !ok || p.Score > passages[j].Score {
			best[key] = i
		}
	}

	out := make([]domain.Passage, 0, len(best))
	for i, p := range passages {
		key := groupKey{documentID: p.DocumentID, facetType: p.FacetType}
		if best[key] == i {
			out = append(out, p)
		}
	}
	return out
}
