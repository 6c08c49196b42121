package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

type fakeCatalog struct {
	expansions map[string][]ports.ConceptExpansion
	err        error
	calls      []string
}

func (f *fakeCatalog) Expand(_ context.Context, span string) ([]ports.ConceptExpansion, error) {
	f.calls = append(f.calls, span)
	if f.err != nil {
		return nil, f.err
	}
	return f.expansions[span], nil
}

func TestCanonicalizeRejectsEmptyQuery(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	_, err := c.Canonicalize(context.Background(), "   ", domain.Filters{})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected invalid query error, got %v", err)
	}
}

func TestCanonicalizeExtractsCodes(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	q, err := c.Canonicalize(context.Background(), "outcomes for NCT01234567 with rxcui:5640 and I21.4", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if !q.HasCode(domain.Code{System: domain.CodeSystemNCT, Value: "NCT01234567"}) {
		t.Fatalf("expected NCT code, got %v", q.Codes)
	}
	if !q.HasCode(domain.Code{System: domain.CodeSystemRxNorm, Value: "RXCUI:5640"}) {
		t.Fatalf("expected RxNorm code, got %v", q.Codes)
	}
	if !q.HasCode(domain.Code{System: domain.CodeSystemICD10CM, Value: "I21.4"}) {
		t.Fatalf("expected ICD-10-CM code, got %v", q.Codes)
	}
}

func TestCanonicalizeLOINCCheckDigit(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	// 2160-0 (serum creatinine) carries a valid mod-10 check digit; 2160-1
	// does not.
	q, err := c.Canonicalize(context.Background(), "creatinine 2160-0 versus 2160-1", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if !q.HasCode(domain.Code{System: domain.CodeSystemLOINC, Value: "2160-0"}) {
		t.Fatalf("expected valid LOINC code accepted, got %v", q.Codes)
	}
	if q.HasCode(domain.Code{System: domain.CodeSystemLOINC, Value: "2160-1"}) {
		t.Fatalf("expected invalid check digit rejected, got %v", q.Codes)
	}
}

func TestCanonicalizeRejectsICD10Noise(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	q, err := c.Canonicalize(context.Background(), "trial arm U071 results", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	for _, code := range q.Codes {
		if code.System == domain.CodeSystemICD10CM {
			t.Fatalf("expected U-category token rejected, got %v", code)
		}
	}
}

func TestCanonicalizeTermClasses(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	q, err := c.Canonicalize(context.Background(), `"hazard ratio" mortality -pediatric drug`, domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if len(q.MustTerms) != 1 || q.MustTerms[0] != "hazard ratio" {
		t.Fatalf("expected quoted phrase as must term, got %v", q.MustTerms)
	}
	if len(q.NegativeTerms) != 1 || q.NegativeTerms[0] != "pediatric" {
		t.Fatalf("expected negated token, got %v", q.NegativeTerms)
	}
	if q.Canonical != "mortality drug" {
		t.Fatalf("expected canonical text from should terms, got %q", q.Canonical)
	}
}

func TestCanonicalizeExpandsAbbreviations(t *testing.T) {
	c := NewCanonicalizer(nil, 0)

	q, err := c.Canonicalize(context.Background(), "hr for mi patients", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	joined := " " + strings.Join(q.ExpansionTerms, " ") + " "
	for _, want := range []string{"hazard", "ratio", "myocardial", "infarction"} {
		if !strings.Contains(joined, " "+want+" ") {
			t.Fatalf("expected expansion term %q, got %v", want, q.ExpansionTerms)
		}
	}
}

func TestCanonicalizeConceptExpansionCapped(t *testing.T) {
	many := make([]ports.ConceptExpansion, 0, 40)
	for i := 0; i < 40; i++ {
		many = append(many, ports.ConceptExpansion{Term: "synonym-" + string(rune('a'+i%26)) + string(rune('a'+i/26))})
	}
	catalog := &fakeCatalog{expansions: map[string][]ports.ConceptExpansion{
		"warfarin": many,
	}}
	c := NewCanonicalizer(catalog, 0)

	q, err := c.Canonicalize(context.Background(), "warfarin bleeding", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if len(q.ExpansionTerms) > maxExpansionTerms {
		t.Fatalf("expected expansion capped at %d, got %d", maxExpansionTerms, len(q.ExpansionTerms))
	}
}

func TestCanonicalizeCatalogFailureDegrades(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("catalog down")}
	c := NewCanonicalizer(catalog, 0)

	q, err := c.Canonicalize(context.Background(), "warfarin bleeding", domain.Filters{})
	if err != nil {
		t.Fatalf("expected catalog failure not to fail query, got %v", err)
	}
	if !q.ExpansionSkipped {
		t.Fatalf("expected ExpansionSkipped flag set")
	}
}

func TestCanonicalizeBigramsBeforeUnigrams(t *testing.T) {
	catalog := &fakeCatalog{}
	c := NewCanonicalizer(catalog, 0)

	_, err := c.Canonicalize(context.Background(), "atrial fibrillation treatment", domain.Filters{})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if len(catalog.calls) < 2 {
		t.Fatalf("expected bigram and unigram lookups, got %v", catalog.calls)
	}
	if catalog.calls[0] != "atrial fibrillation" {
		t.Fatalf("expected bigram looked up first, got %v", catalog.calls)
	}
}
