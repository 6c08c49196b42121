package usecase

import (
	"math"
	"sort"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

// FusionMode selects how per-backend rankings are combined.
type FusionMode string

const (
	FusionWeighted FusionMode = "weighted"
	FusionRRF      FusionMode = "rrf"
)

// FusionOverride replaces the default mode and weights for one intent.
type FusionOverride struct {
	Mode    FusionMode         `yaml:"mode"`
	Weights map[string]float64 `yaml:"weights"`
}

// FusionConfig holds the default blend configuration. Weights are keyed by
// backend name and should sum to 1.0.
type FusionConfig struct {
	Mode       FusionMode
	Weights    map[string]float64
	RRFK       int
	MinOverlap int
	Overrides  map[domain.Intent]FusionOverride
}

func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Mode: FusionWeighted,
		Weights: map[string]float64{
			BackendLexical: 0.15,
			BackendSparse:  0.50,
			BackendDense:   0.35,
			BackendGraph:   0.10,
		},
		RRFK:       60,
		MinOverlap: 1,
	}
}

// Canonical backend names shared by adapters, fusion weights, and explain
// output.
const (
	BackendLexical = "lexical"
	BackendSparse  = "sparse"
	BackendDense   = "dense"
	BackendGraph   = "graph"
)

// BackendRanking is one succeeding adapter's output, still in backend-local
// score space and sorted descending by raw score.
type BackendRanking struct {
	Backend string
	Units   []domain.ScoredUnit
}

// FusionEngine normalizes per-backend scores onto [0,1] and blends them into
// one ranking. Fusion is a pure function of its inputs: the same rankings and
// configuration always yield the same ordering.
type FusionEngine struct {
	cfg FusionConfig
}

func NewFusionEngine(cfg FusionConfig) *FusionEngine {
	if cfg.Mode == "" {
		cfg.Mode = FusionWeighted
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultFusionConfig().Weights
	}
	return &FusionEngine{cfg: cfg}
}

// Fuse combines the succeeding backends' rankings for one query. The caller
// is responsible for excluding failed backends and surfacing degraded mode.
func (e *FusionEngine) Fuse(intent domain.Intent, rankings []BackendRanking) []domain.FusedResult {
	mode, weights := e.resolve(intent)

	sorted := make([]BackendRanking, len(rankings))
	copy(sorted, rankings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Backend < sorted[j].Backend })

	normalized := make(map[string]map[string]float64, len(sorted))
	for _, r := range sorted {
		normalized[r.Backend] = normalizeClipped(r.Units)
	}

	if mode == FusionWeighted && len(sorted) > 1 && crossBackendOverlap(sorted) < e.cfg.MinOverlap {
		mode = FusionRRF
	}

	acc := make(map[string]*domain.FusedResult)
	component := func(unitID string) *domain.FusedResult {
		fr, ok := acc[unitID]
		if !ok {
			fr = &domain.FusedResult{
				UnitID:          unitID,
				ComponentScores: make(map[string]float64, len(sorted)),
			}
			acc[unitID] = fr
		}
		return fr
	}

	for _, r := range sorted {
		norms := normalized[r.Backend]
		for rank, unit := range r.Units {
			fr := component(unit.UnitID)
			fr.ComponentScores[r.Backend] = norms[unit.UnitID]
			switch mode {
			case FusionRRF:
				fr.Score += 1.0 / float64(e.cfg.RRFK+rank+1)
			default:
				fr.Score += weights[r.Backend] * norms[unit.UnitID]
			}
		}
	}

	out := make([]domain.FusedResult, 0, len(acc))
	for _, fr := range acc {
		out = append(out, *fr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}

// Mode reports the effective fusion mode for an intent, for metrics and
// explain output.
func (e *FusionEngine) Mode(intent domain.Intent) FusionMode {
	mode, _ := e.resolve(intent)
	return mode
}

func (e *FusionEngine) resolve(intent domain.Intent) (FusionMode, map[string]float64) {
	mode := e.cfg.Mode
	weights := e.cfg.Weights
	if override, ok := e.cfg.Overrides[intent]; ok {
		if override.Mode != "" {
			mode = override.Mode
		}
		if len(override.Weights) > 0 {
			weights = override.Weights
		}
	}
	return mode, weights
}

// normalizeClipped min-max normalizes one backend's raw scores onto [0,1],
// clipping at the 5th/95th percentile so a single outlier cannot flatten the
// rest of the distribution.
func normalizeClipped(units []domain.ScoredUnit) map[string]float64 {
	out := make(map[string]float64, len(units))
	if len(units) == 0 {
		return out
	}

	scores := make([]float64, len(units))
	for i, u := range units {
		scores[i] = u.Score
	}
	sort.Float64s(scores)

	lo := percentile(scores, 0.05)
	hi := percentile(scores, 0.95)
	span := hi - lo

	for _, u := range units {
		if span <= 0 {
			if u.Score > 0 {
				out[u.UnitID] = 1
			} else {
				out[u.UnitID] = 0
			}
			continue
		}
		clipped := math.Min(math.Max(u.Score, lo), hi)
		out[u.UnitID] = (clipped - lo) / span
	}
	return out
}

// percentile interpolates linearly over an ascending-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	idx := int(math.Floor(pos))
	frac := pos - float64(idx)
	if idx+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}

// crossBackendOverlap counts unit ids returned by at least two backends.
func crossBackendOverlap(rankings []BackendRanking) int {
	seen := make(map[string]int)
	for _, r := range rankings {
		for _, u := range r.Units {
			seen[u.UnitID]++
		}
	}
	overlap := 0
	for _, n := range seen {
		if n > 1 {
			overlap++
		}
	}
	return overlap
}
