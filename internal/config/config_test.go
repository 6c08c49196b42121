package config

import (
	"testing"
	"time"
)

func TestLoadFusionDefaults(t *testing.T) {
	t.Setenv("FUSION_MODE", "")
	t.Setenv("FUSION_RRF_K", "")
	t.Setenv("FUSION_MIN_OVERLAP", "")
	t.Setenv("FUSION_LEXICAL_WEIGHT", "")
	t.Setenv("FUSION_SPARSE_WEIGHT", "")
	t.Setenv("FUSION_DENSE_WEIGHT", "")
	t.Setenv("FUSION_GRAPH_WEIGHT", "")

	cfg := Load()
	if cfg.FusionMode != "weighted" {
		t.Fatalf("expected default mode weighted, got %q", cfg.FusionMode)
	}
	if cfg.FusionRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.FusionRRFK)
	}
	if cfg.LexicalWeight != 0.15 || cfg.SparseWeight != 0.50 || cfg.DenseWeight != 0.35 || cfg.GraphWeight != 0.10 {
		t.Fatalf("unexpected default weights: %v, %v, %v, %v",
			cfg.LexicalWeight, cfg.SparseWeight, cfg.DenseWeight, cfg.GraphWeight)
	}
}

func TestLoadRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVE_DEFAULT_TOP_K", "")
	t.Setenv("RETRIEVE_MAX_TOP_K", "")
	t.Setenv("RETRIEVE_CANDIDATE_TOP_K", "")
	t.Setenv("ADAPTER_TIMEOUT", "")
	t.Setenv("CACHE_TTL", "")
	t.Setenv("CACHE_PINNED_TTL", "")

	cfg := Load()
	if cfg.DefaultTopK != 20 || cfg.MaxTopK != 200 || cfg.CandidateTopK != 100 {
		t.Fatalf("unexpected topK defaults: %d, %d, %d", cfg.DefaultTopK, cfg.MaxTopK, cfg.CandidateTopK)
	}
	if cfg.AdapterTimeout != 1500*time.Millisecond {
		t.Fatalf("expected adapter timeout 1.5s, got %v", cfg.AdapterTimeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected cache TTL 5m, got %v", cfg.CacheTTL)
	}
	if cfg.PinnedCacheTTL != time.Hour {
		t.Fatalf("expected pinned cache TTL 1h, got %v", cfg.PinnedCacheTTL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_MODE", "rrf")
	t.Setenv("FUSION_MIN_OVERLAP", "3")
	t.Setenv("ADAPTER_TIMEOUT", "750ms")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("GRAPH_ENABLED", "false")
	t.Setenv("MERGE_BOUNDARY_FACETS", "table, figure")

	cfg := Load()
	if cfg.FusionMode != "rrf" {
		t.Fatalf("expected fusion mode override, got %q", cfg.FusionMode)
	}
	if cfg.FusionMinOverlap != 3 {
		t.Fatalf("expected min overlap 3, got %d", cfg.FusionMinOverlap)
	}
	if cfg.AdapterTimeout != 750*time.Millisecond {
		t.Fatalf("expected adapter timeout 750ms, got %v", cfg.AdapterTimeout)
	}
	if cfg.CacheBackend != "redis" {
		t.Fatalf("expected redis cache backend, got %q", cfg.CacheBackend)
	}
	if cfg.GraphEnabled {
		t.Fatalf("expected graph disabled")
	}
	if len(cfg.MergeBoundaryFacets) != 2 || cfg.MergeBoundaryFacets[1] != "figure" {
		t.Fatalf("unexpected boundary facets: %v", cfg.MergeBoundaryFacets)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RETRIEVE_DEFAULT_TOP_K", "not-a-number")
	t.Setenv("ADAPTER_TIMEOUT", "soon")
	t.Setenv("GRAPH_ENABLED", "maybe")

	cfg := Load()
	if cfg.DefaultTopK != 20 {
		t.Fatalf("expected fallback on malformed int, got %d", cfg.DefaultTopK)
	}
	if cfg.AdapterTimeout != 1500*time.Millisecond {
		t.Fatalf("expected fallback on malformed duration, got %v", cfg.AdapterTimeout)
	}
	if !cfg.GraphEnabled {
		t.Fatalf("expected fallback on malformed bool")
	}
}
