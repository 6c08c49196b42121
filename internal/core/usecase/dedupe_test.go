package usecase

import (
	"testing"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

func TestDeduplicateKeepsBestPerDocumentFacet(t *testing.T) {
	passages := []domain.Passage{
		{DocumentID: "D1", FacetType: domain.FacetOutcome, Score: 0.9, Text: "a"},
		{DocumentID: "D1", FacetType: domain.FacetOutcome, Score: 0.7, Text: "b"},
		{DocumentID: "D1", FacetType: domain.FacetSafety, Score: 0.6, Text: "c"},
		{DocumentID: "D2", FacetType: domain.FacetOutcome, Score: 0.5, Text: "d"},
	}

	out := Deduplicate(passages)
	if len(out) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(out))
	}
	if out[0].Text != "a" || out[1].Text != "c" || out[2].Text != "d" {
		t.Fatalf("unexpected survivors: %v, %v, %v", out[0].Text, out[1].Text, out[2].Text)
	}
}

func TestDeduplicatePreservesRankingOrder(t *testing.T) {
	passages := []domain.Passage{
		{DocumentID: "D2", FacetType: domain.FacetOutcome, Score: 0.9},
		{DocumentID: "D1", FacetType: domain.FacetOutcome, Score: 0.8},
		{DocumentID: "D2", FacetType: domain.FacetOutcome, Score: 0.3},
	}

	out := Deduplicate(passages)
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	if out[0].DocumentID != "D2" || out[1].DocumentID != "D1" {
		t.Fatalf("expected ranking order preserved, got %s, %s", out[0].DocumentID, out[1].DocumentID)
	}
}

func TestDeduplicateIdempotent(t *testing.T) {
	passages := []domain.Passage{
		{DocumentID: "D1", FacetType: domain.FacetOutcome, Score: 0.9, Text: "a"},
		{DocumentID: "D1", FacetType: domain.FacetOutcome, Score: 0.7, Text: "b"},
		{DocumentID: "D2", FacetType: domain.FacetSafety, Score: 0.6, Text: "c"},
	}

	once := Deduplicate(passages)
	twice := Deduplicate(once)
	if len(once) != len(twice) {
		t.Fatalf("expected idempotent dedup, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Text != twice[i].Text {
			t.Fatalf("expected identical output at %d", i)
		}
	}
}
