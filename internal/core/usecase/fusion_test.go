package usecase

import (
	"math"
	"testing"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

func TestFuseWeightedBlendRanksSharedUnitFirst(t *testing.T) {
	engine := NewFusionEngine(DefaultFusionConfig())

	fused := engine.Fuse(domain.IntentGeneral, []BackendRanking{
		{Backend: BackendLexical, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 0.9}, {UnitID: "U2", Score: 0.5}}},
		{Backend: BackendSparse, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 0.8}, {UnitID: "U3", Score: 0.6}}},
		{Backend: BackendDense, Units: []domain.ScoredUnit{{UnitID: "U2", Score: 0.7}}},
	})

	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	if fused[0].UnitID != "U1" || fused[1].UnitID != "U2" || fused[2].UnitID != "U3" {
		t.Fatalf("expected ranking U1, U2, U3; got %s, %s, %s", fused[0].UnitID, fused[1].UnitID, fused[2].UnitID)
	}
	if _, ok := fused[0].ComponentScores[BackendLexical]; !ok {
		t.Fatalf("expected lexical component score for U1")
	}
	if _, ok := fused[0].ComponentScores[BackendSparse]; !ok {
		t.Fatalf("expected sparse component score for U1")
	}
	if _, ok := fused[0].ComponentScores[BackendDense]; ok {
		t.Fatalf("did not expect dense component score for U1")
	}
}

func TestFuseDeterministicAcrossBackendOrder(t *testing.T) {
	engine := NewFusionEngine(DefaultFusionConfig())

	lexical := BackendRanking{Backend: BackendLexical, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 0.9}, {UnitID: "U2", Score: 0.5}}}
	sparse := BackendRanking{Backend: BackendSparse, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 0.8}, {UnitID: "U3", Score: 0.6}}}
	dense := BackendRanking{Backend: BackendDense, Units: []domain.ScoredUnit{{UnitID: "U2", Score: 0.7}}}

	first := engine.Fuse(domain.IntentGeneral, []BackendRanking{lexical, sparse, dense})
	second := engine.Fuse(domain.IntentGeneral, []BackendRanking{dense, lexical, sparse})

	if len(first) != len(second) {
		t.Fatalf("expected identical result lengths, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].UnitID != second[i].UnitID {
			t.Fatalf("ranking differs at %d: %s vs %s", i, first[i].UnitID, second[i].UnitID)
		}
		if first[i].Score != second[i].Score {
			t.Fatalf("score differs for %s: %v vs %v", first[i].UnitID, first[i].Score, second[i].Score)
		}
	}
}

func TestFuseFallsBackToRRFWithoutOverlap(t *testing.T) {
	cfg := DefaultFusionConfig()
	engine := NewFusionEngine(cfg)

	fused := engine.Fuse(domain.IntentGeneral, []BackendRanking{
		{Backend: BackendLexical, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 12.0}}},
		{Backend: BackendDense, Units: []domain.ScoredUnit{{UnitID: "U2", Score: 0.7}}},
	})

	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	want := 1.0 / float64(cfg.RRFK+1)
	for _, fr := range fused {
		if math.Abs(fr.Score-want) > 1e-12 {
			t.Fatalf("expected RRF score %v for %s, got %v", want, fr.UnitID, fr.Score)
		}
	}
	if fused[0].UnitID != "U1" {
		t.Fatalf("expected tie-break by unit id, got first=%s", fused[0].UnitID)
	}
}

func TestFuseTieBreakByUnitID(t *testing.T) {
	engine := NewFusionEngine(DefaultFusionConfig())

	fused := engine.Fuse(domain.IntentGeneral, []BackendRanking{
		{Backend: BackendSparse, Units: []domain.ScoredUnit{
			{UnitID: "UB", Score: 0.5},
			{UnitID: "UA", Score: 0.5},
		}},
	})

	if fused[0].UnitID != "UA" || fused[1].UnitID != "UB" {
		t.Fatalf("expected UA before UB on equal scores, got %s, %s", fused[0].UnitID, fused[1].UnitID)
	}
}

func TestFuseIntentOverrideSwitchesMode(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.Overrides = map[domain.Intent]FusionOverride{
		domain.IntentSafety: {Mode: FusionRRF},
	}
	engine := NewFusionEngine(cfg)

	if engine.Mode(domain.IntentSafety) != FusionRRF {
		t.Fatalf("expected rrf mode for safety intent")
	}
	if engine.Mode(domain.IntentGeneral) != FusionWeighted {
		t.Fatalf("expected weighted mode for general intent")
	}

	fused := engine.Fuse(domain.IntentSafety, []BackendRanking{
		{Backend: BackendLexical, Units: []domain.ScoredUnit{{UnitID: "U1", Score: 0.9}, {UnitID: "U2", Score: 0.1}}},
	})
	want := 1.0 / float64(cfg.RRFK+1)
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Fatalf("expected RRF scoring under override, got %v", fused[0].Score)
	}
}

func TestNormalizeClippedBoundsAndOrder(t *testing.T) {
	units := []domain.ScoredUnit{
		{UnitID: "U1", Score: 0.1},
		{UnitID: "U2", Score: 0.2},
		{UnitID: "U3", Score: 0.3},
		{UnitID: "U4", Score: 0.4},
		{UnitID: "U5", Score: 10.0},
	}

	norms := normalizeClipped(units)
	if norms["U5"] != 1.0 {
		t.Fatalf("expected clipped max to normalize to 1, got %v", norms["U5"])
	}
	if norms["U1"] != 0.0 {
		t.Fatalf("expected clipped min to normalize to 0, got %v", norms["U1"])
	}
	if !(norms["U2"] < norms["U3"] && norms["U3"] < norms["U4"]) {
		t.Fatalf("expected monotone normalization, got %v, %v, %v", norms["U2"], norms["U3"], norms["U4"])
	}
	// Clipping at the 95th percentile keeps the outlier from flattening the
	// rest of the distribution.
	if norms["U4"] < 0.03 {
		t.Fatalf("expected spread preserved under outlier, got %v", norms["U4"])
	}
}

func TestNormalizeClippedUniformScores(t *testing.T) {
	norms := normalizeClipped([]domain.ScoredUnit{
		{UnitID: "U1", Score: 0.5},
		{UnitID: "U2", Score: 0.5},
	})
	if norms["U1"] != 1.0 || norms["U2"] != 1.0 {
		t.Fatalf("expected uniform positive scores to normalize to 1, got %v, %v", norms["U1"], norms["U2"])
	}
}
