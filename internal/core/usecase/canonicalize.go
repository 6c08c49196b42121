package usecase

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

const maxExpansionTerms = 20

var errEmptyQuery = errors.New("empty query text")

// CodeRecognizer detects one identifier system inside raw query text. The
// pattern proposes candidates, the validator rejects pattern-shaped noise.
type CodeRecognizer struct {
	System   domain.CodeSystem
	Pattern  *regexp.Regexp
	Validate func(value string) bool
}

// Canonicalizer normalizes raw query text, extracts typed codes, and expands
// vocabulary through the read-only concept catalog.
type Canonicalizer struct {
	recognizers   []CodeRecognizer
	abbreviations map[string]string
	catalog       ports.ConceptCatalog
	lookupTimeout time.Duration
}

func NewCanonicalizer(catalog ports.ConceptCatalog, lookupTimeout time.Duration) *Canonicalizer {
	if lookupTimeout <= 0 {
		lookupTimeout = 300 * time.Millisecond
	}
	return &Canonicalizer{
		recognizers:   defaultRecognizers(),
		abbreviations: defaultAbbreviations(),
		catalog:       catalog,
		lookupTimeout: lookupTimeout,
	}
}

// WithRecognizers replaces the built-in code recognizers.
func (c *Canonicalizer) WithRecognizers(recognizers []CodeRecognizer) *Canonicalizer {
	c.recognizers = recognizers
	return c
}

// Canonicalize builds the immutable query for one request. It fails hard only
// on an empty query; a missing concept catalog degrades to no expansion.
func (c *Canonicalizer) Canonicalize(ctx context.Context, raw string, filters domain.Filters) (domain.Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "canonicalize", errEmptyQuery)
	}

	q := domain.Query{
		Raw:     raw,
		Filters: filters,
	}

	rest := trimmed
	for _, rec := range c.recognizers {
		matches := rec.Pattern.FindAllString(rest, -1)
		for _, m := range matches {
			value := strings.ToUpper(m)
			if rec.Validate != nil && !rec.Validate(value) {
				continue
			}
			code := domain.Code{System: rec.System, Value: value}
			if !q.HasCode(code) {
				q.Codes = append(q.Codes, code)
			}
		}
	}
	q.Codes = append(q.Codes, filters.Codes...)

	must, should, negative := splitTermClasses(trimmed)
	q.MustTerms = must
	q.NegativeTerms = negative

	canonical := make([]string, 0, len(should))
	for _, tok := range should {
		norm := normalizeToken(tok)
		if norm == "" {
			continue
		}
		canonical = append(canonical, norm)
		if full, ok := c.abbreviations[norm]; ok {
			q.ExpansionTerms = appendCapped(q.ExpansionTerms, strings.Fields(full)...)
		}
	}
	q.ShouldTerms = canonical
	q.Canonical = strings.Join(canonical, " ")
	if q.Canonical == "" && len(q.Codes) == 0 {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "canonicalize", errEmptyQuery)
	}

	c.expandConcepts(ctx, &q)
	return q, nil
}

func (c *Canonicalizer) expandConcepts(ctx context.Context, q *domain.Query) {
	if c.catalog == nil {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	for _, span := range expansionSpans(q.ShouldTerms) {
		if len(q.ExpansionTerms) >= maxExpansionTerms {
			return
		}
		expansions, err := c.catalog.Expand(lookupCtx, span)
		if err != nil {
			slog.Warn("concept_expansion_skipped", "span", span, "error", err)
			q.ExpansionSkipped = true
			return
		}
		for _, exp := range expansions {
			if exp.Term != "" {
				q.ExpansionTerms = appendCapped(q.ExpansionTerms, exp.Term)
			}
			if exp.Code != nil && !q.HasCode(*exp.Code) {
				q.Codes = append(q.Codes, *exp.Code)
			}
		}
	}
}

// expansionSpans yields bigrams first (more specific concepts), then unigrams,
// skipping stopwords.
func expansionSpans(tokens []string) []string {
	content := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if stopwords[tok] {
			continue
		}
		content = append(content, tok)
	}
	spans := make([]string, 0, len(content)*2)
	for i := 0; i+1 < len(content); i++ {
		spans = append(spans, content[i]+" "+content[i+1])
	}
	spans = append(spans, content...)
	return spans
}

// splitTermClasses parses quoting and negation syntax: "quoted phrases" are
// must terms, -prefixed tokens are negative, everything else is a should term.
func splitTermClasses(raw string) (must, should, negative []string) {
	for len(raw) > 0 {
		start := strings.IndexByte(raw, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(raw[start+1:], '"')
		if end < 0 {
			break
		}
		phrase := strings.TrimSpace(raw[start+1 : start+1+end])
		if phrase != "" {
			must = append(must, strings.ToLower(phrase))
		}
		raw = raw[:start] + " " + raw[start+1+end+1:]
	}

	for _, field := range strings.Fields(raw) {
		if strings.HasPrefix(field, "-") && len(field) > 1 {
			neg := normalizeToken(strings.TrimPrefix(field, "-"))
			if neg != "" {
				negative = append(negative, neg)
			}
			continue
		}
		should = append(should, field)
	}
	return must, should, negative
}

// normalizeToken lowercases plain alphabetic tokens while leaving hyphenated
// compounds and numeric/unit tokens byte-for-byte intact apart from case.
func normalizeToken(tok string) string {
	tok = strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '.'
	})
	if tok == "" {
		return ""
	}
	hasDigit := false
	for _, r := range tok {
		if unicode.IsDigit(r) {
			hasDigit = true
			break
		}
	}
	if hasDigit || strings.Contains(tok, "-") {
		return strings.ToLower(tok)
	}
	return strings.ToLower(strings.Trim(tok, "."))
}

func appendCapped(dst []string, terms ...string) []string {
	for _, term := range terms {
		if len(dst) >= maxExpansionTerms {
			return dst
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		seen := false
		for _, existing := range dst {
			if existing == term {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, term)
		}
	}
	return dst
}

func defaultRecognizers() []CodeRecognizer {
	return []CodeRecognizer{
		{
			System:  domain.CodeSystemNCT,
			Pattern: regexp.MustCompile(`(?i)\bNCT\d{8}\b`),
		},
		{
			System:  domain.CodeSystemRxNorm,
			Pattern: regexp.MustCompile(`(?i)\brxcui:\d{1,8}\b`),
			Validate: func(value string) bool {
				return len(value) > len("RXCUI:")
			},
		},
		{
			System:   domain.CodeSystemICD10CM,
			Pattern:  regexp.MustCompile(`\b[A-TV-Z][0-9][0-9A-Z](?:\.[0-9A-Z]{1,4})?\b`),
			Validate: validICD10,
		},
		{
			System:   domain.CodeSystemLOINC,
			Pattern:  regexp.MustCompile(`\b\d{1,5}-\d\b`),
			Validate: validLOINC,
		},
	}
}

// validICD10 rejects pattern-shaped tokens that cannot be ICD-10-CM codes:
// category letter U is reserved, and a fourth character requires the dot form.
func validICD10(value string) bool {
	if len(value) < 3 {
		return false
	}
	if value[0] == 'U' {
		return false
	}
	if len(value) > 3 && value[3] != '.' {
		return false
	}
	return true
}

// validLOINC checks the trailing mod-10 check digit (Luhn over the numeric
// part, as LOINC defines it).
func validLOINC(value string) bool {
	dash := strings.LastIndexByte(value, '-')
	if dash <= 0 || dash != len(value)-2 {
		return false
	}
	digits := value[:dash]
	check := int(value[len(value)-1] - '0')

	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (sum+check)%10 == 0
}

func defaultAbbreviations() map[string]string {
	return map[string]string{
		"hr":    "hazard ratio",
		"rr":    "relative risk",
		"ci":    "confidence interval",
		"mi":    "myocardial infarction",
		"hf":    "heart failure",
		"ckd":   "chronic kidney disease",
		"copd":  "chronic obstructive pulmonary disease",
		"t2dm":  "type 2 diabetes mellitus",
		"ae":    "adverse event",
		"sae":   "serious adverse event",
		"rct":   "randomized controlled trial",
		"pfs":   "progression free survival",
		"os":    "overall survival",
		"egfr":  "estimated glomerular filtration rate",
		"bp":    "blood pressure",
		"dvt":   "deep vein thrombosis",
		"pe":    "pulmonary embolism",
		"uti":   "urinary tract infection",
		"nsaid": "nonsteroidal anti-inflammatory drug",
	}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "with": true, "what": true,
	"which": true, "does": true, "do": true, "was": true, "were": true,
}
