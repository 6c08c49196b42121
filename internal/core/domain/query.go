package domain

import "time"

// Intent is a coarse retrieval intent assigned to a canonicalized query.
type Intent string

const (
	IntentGeneral     Intent = "general"
	IntentOutcome     Intent = "outcome"
	IntentSafety      Intent = "safety"
	IntentDosage      Intent = "dosage"
	IntentEligibility Intent = "eligibility"
	IntentInteraction Intent = "interaction"
)

// IntentGuess pairs an intent with the classifier's confidence in it.
type IntentGuess struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// CodeSystem identifies the terminology a deterministic code belongs to.
type CodeSystem string

const (
	CodeSystemNCT      CodeSystem = "nct"
	CodeSystemRxNorm   CodeSystem = "rxnorm"
	CodeSystemICD10CM  CodeSystem = "icd10cm"
	CodeSystemLOINC    CodeSystem = "loinc"
	CodeSystemInternal CodeSystem = "internal"
)

// Code is a typed identifier extracted from the query or attached to a unit.
type Code struct {
	System CodeSystem `json:"system"`
	Value  string     `json:"value"`
}

// Filters restricts retrieval to a structured subset of the corpus.
type Filters struct {
	FacetType string    `json:"facet_type,omitempty"`
	Source    string    `json:"source,omitempty"`
	DateFrom  time.Time `json:"date_from,omitempty"`
	DateTo    time.Time `json:"date_to,omitempty"`
	Codes     []Code    `json:"codes,omitempty"`
	MinScore  float64   `json:"min_score,omitempty"`
}

// Query is the immutable, fully canonicalized request one retrieve call
// operates on. Built once by the canonicalizer and intent classifier, then
// read-only for the rest of the pipeline.
type Query struct {
	Raw       string
	Canonical string

	Intents []IntentGuess

	MustTerms      []string
	ShouldTerms    []string
	NegativeTerms  []string
	ExpansionTerms []string

	Codes   []Code
	Filters Filters

	TopK    int
	Rerank  bool
	Explain bool

	// ExpansionSkipped is set when the concept catalog was unreachable and
	// vocabulary expansion was silently dropped.
	ExpansionSkipped bool
}

// PrimaryIntent returns the top-ranked intent, or IntentGeneral when the
// classifier produced nothing.
func (q Query) PrimaryIntent() Intent {
	if len(q.Intents) == 0 {
		return IntentGeneral
	}
	return q.Intents[0].Intent
}

// HasIntent reports whether any assigned intent matches the given one.
func (q Query) HasIntent(intent Intent) bool {
	for _, g := range q.Intents {
		if g.Intent == intent {
			return true
		}
	}
	return false
}

// HasCode reports whether the query carries the exact code.
func (q Query) HasCode(code Code) bool {
	for _, c := range q.Codes {
		if c.System == code.System && c.Value == code.Value {
			return true
		}
	}
	return false
}
