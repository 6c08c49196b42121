package domain

// FacetType tags the semantic role of a retrieval unit inside its document.
// A small closed set is produced by the upstream segmentation pipeline; the
// retrieval core only compares tags, it never invents new ones.
const (
	FacetNarrative   = "narrative"
	FacetOutcome     = "outcome"
	FacetSafety      = "safety"
	FacetEligibility = "eligibility"
	FacetDosage      = "dosage"
	FacetTable       = "table"
)

// RetrievalUnit is the atomic indexed item. It is produced and owned by the
// segmentation pipeline; this service reads it and never mutates it.
type RetrievalUnit struct {
	ID         string
	DocumentID string
	StartChar  int
	EndChar    int
	FacetType  string
	Section    string
	Text       string
	Embedding  []float32
	Codes      []Code
	Metadata   map[string]string
}

// ScoredUnit is one backend's raw-scored candidate.
type ScoredUnit struct {
	UnitID string
	Score  float64
}

// RetrievalHit is one (unit, backend) scoring observation collected during
// fan-out, before fusion merges hits for the same unit.
type RetrievalHit struct {
	UnitID    string
	Backend   string
	RawScore  float64
	NormScore float64
}
