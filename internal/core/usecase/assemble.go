package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// AssemblerConfig bounds neighbor merging.
type AssemblerConfig struct {
	// WindowChars is the maximum character-offset gap between the anchor
	// span and a merge candidate.
	WindowChars int
	// CosineThreshold is the minimum embedding similarity between anchor
	// and neighbor.
	CosineThreshold float64
	// MaxPassageChars caps the combined passage text size.
	MaxPassageChars int
	// BoundaryFacets lists facet types that block merging across them.
	BoundaryFacets []string
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		WindowChars:     600,
		CosineThreshold: 0.60,
		MaxPassageChars: 2400,
		BoundaryFacets:  []string{domain.FacetTable},
	}
}

const passageSeparator = "\n"

// PassageAssembler merges adjacent units of the same document into larger
// passages, carrying a span remap table so merged text can be traced back to
// each unit's original offsets.
type PassageAssembler struct {
	store    ports.UnitStore
	cfg      AssemblerConfig
	boundary map[string]bool
}

func NewPassageAssembler(store ports.UnitStore, cfg AssemblerConfig) *PassageAssembler {
	def := DefaultAssemblerConfig()
	if cfg.WindowChars <= 0 {
		cfg.WindowChars = def.WindowChars
	}
	if cfg.CosineThreshold <= 0 {
		cfg.CosineThreshold = def.CosineThreshold
	}
	if cfg.MaxPassageChars <= 0 {
		cfg.MaxPassageChars = def.MaxPassageChars
	}
	if cfg.BoundaryFacets == nil {
		cfg.BoundaryFacets = def.BoundaryFacets
	}
	boundary := make(map[string]bool, len(cfg.BoundaryFacets))
	for _, facet := range cfg.BoundaryFacets {
		boundary[facet] = true
	}
	return &PassageAssembler{store: store, cfg: cfg, boundary: boundary}
}

// Assemble builds one passage per fused result, in ranking order. An anchor
// whose unit is unknown to the store is dropped rather than failing the call.
func (a *PassageAssembler) Assemble(
	ctx context.Context,
	fused []domain.FusedResult,
	units map[string]domain.RetrievalUnit,
) ([]domain.Passage, error) {
	passages := make([]domain.Passage, 0, len(fused))
	for _, fr := range fused {
		anchor, ok := units[fr.UnitID]
		if !ok {
			continue
		}
		merged, err := a.mergeNeighbors(ctx, anchor)
		if err != nil {
			return nil, fmt.Errorf("merge neighbors for %s: %w", anchor.ID, err)
		}
		passages = append(passages, buildPassage(fr, merged))
	}
	return passages, nil
}

// mergeNeighbors extends outward from the anchor, alternating right and left,
// until no side is eligible or the size budget is spent.
func (a *PassageAssembler) mergeNeighbors(ctx context.Context, anchor domain.RetrievalUnit) ([]domain.RetrievalUnit, error) {
	lo := anchor.StartChar - a.cfg.WindowChars
	if lo < 0 {
		lo = 0
	}
	hi := anchor.EndChar + a.cfg.WindowChars

	neighborhood, err := a.store.Neighbors(ctx, anchor.DocumentID, lo, hi)
	if err != nil {
		return nil, err
	}
	sort.Slice(neighborhood, func(i, j int) bool {
		return neighborhood[i].StartChar < neighborhood[j].StartChar
	})

	anchorIdx := -1
	for i, u := range neighborhood {
		if u.ID == anchor.ID {
			anchorIdx = i
			break
		}
	}
	if anchorIdx < 0 {
		return []domain.RetrievalUnit{anchor}, nil
	}

	merged := []domain.RetrievalUnit{neighborhood[anchorIdx]}
	size := len(anchor.Text)
	left, right := anchorIdx-1, anchorIdx+1
	leftOpen, rightOpen := true, true

	for (leftOpen && left >= 0) || (rightOpen && right < len(neighborhood)) {
		if rightOpen && right < len(neighborhood) {
			cand := neighborhood[right]
			switch a.eligibility(anchor, cand, size) {
			case mergeTake:
				merged = append(merged, cand)
				size += len(passageSeparator) + len(cand.Text)
				right++
			case mergeSkip:
				right++
			case mergeStop:
				rightOpen = false
			}
		} else {
			rightOpen = false
		}

		if leftOpen && left >= 0 {
			cand := neighborhood[left]
			switch a.eligibility(anchor, cand, size) {
			case mergeTake:
				merged = append(merged, cand)
				size += len(passageSeparator) + len(cand.Text)
				left--
			case mergeSkip:
				left--
			case mergeStop:
				leftOpen = false
			}
		} else {
			leftOpen = false
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].StartChar < merged[j].StartChar })
	return merged, nil
}

type mergeDecision int

const (
	mergeTake mergeDecision = iota
	mergeSkip
	mergeStop
)

// eligibility applies the merge rules to one candidate: offset window
// relative to the anchor, boundary facets,
// embedding similarity, and the combined size budget. A boundary unit in the
// anchor's own section is stepped over without being merged; anywhere else it
// stops extension on that side.
func (a *PassageAssembler) eligibility(anchor, cand domain.RetrievalUnit, size int) mergeDecision {
	if cand.DocumentID != anchor.DocumentID {
		return mergeStop
	}
	gap := 0
	if cand.StartChar >= anchor.EndChar {
		gap = cand.StartChar - anchor.EndChar
	} else if cand.EndChar <= anchor.StartChar {
		gap = anchor.StartChar - cand.EndChar
	}
	if gap > a.cfg.WindowChars {
		return mergeStop
	}
	if a.boundary[cand.FacetType] {
		if cand.Section != "" && cand.Section == anchor.Section {
			return mergeSkip
		}
		return mergeStop
	}
	if cosineSimilarity(anchor.Embedding, cand.Embedding) < a.cfg.CosineThreshold {
		return mergeStop
	}
	if size+len(passageSeparator)+len(cand.Text) > a.cfg.MaxPassageChars {
		return mergeStop
	}
	return mergeTake
}

// buildPassage joins merged unit text and records the span remap table.
func buildPassage(fr domain.FusedResult, units []domain.RetrievalUnit) domain.Passage {
	var b strings.Builder
	spans := make([]domain.SpanSegment, 0, len(units))
	ids := make([]string, 0, len(units))

	for i, u := range units {
		if i > 0 {
			b.WriteString(passageSeparator)
		}
		start := b.Len()
		b.WriteString(u.Text)
		spans = append(spans, domain.SpanSegment{
			UnitID:       u.ID,
			UnitStart:    u.StartChar,
			UnitEnd:      u.EndChar,
			PassageStart: start,
			PassageEnd:   b.Len(),
		})
		ids = append(ids, u.ID)
	}

	anchorFacet := units[0].FacetType
	for _, u := range units {
		if u.ID == fr.UnitID {
			anchorFacet = u.FacetType
			break
		}
	}

	return domain.Passage{
		UnitIDs:         ids,
		DocumentID:      units[0].DocumentID,
		Text:            b.String(),
		StartChar:       units[0].StartChar,
		EndChar:         units[len(units)-1].EndChar,
		FacetType:       anchorFacet,
		Score:           fr.Score,
		ComponentScores: fr.ComponentScores,
		RerankScore:     fr.RerankScore,
		Spans:           spans,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
