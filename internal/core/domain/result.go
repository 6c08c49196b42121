package domain

// FusedResult is one unit's combined score across backends. Immutable after
// fusion; the ordering over fused results is the ranking.
type FusedResult struct {
	UnitID          string             `json:"unit_id"`
	Score           float64            `json:"fused_score"`
	ComponentScores map[string]float64 `json:"component_scores"`
	RerankScore     *float64           `json:"rerank_score,omitempty"`
}

// SpanSegment maps a slice of merged passage text back to the contributing
// unit's original character offsets, for downstream citation.
type SpanSegment struct {
	UnitID       string `json:"unit_id"`
	UnitStart    int    `json:"unit_start"`
	UnitEnd      int    `json:"unit_end"`
	PassageStart int    `json:"passage_start"`
	PassageEnd   int    `json:"passage_end"`
}

// Passage is an ordered run of units from one document merged into a single
// excerpt, carrying the best contributing fused score.
type Passage struct {
	UnitIDs         []string           `json:"unit_ids"`
	DocumentID      string             `json:"owning_document_id"`
	Text            string             `json:"text"`
	StartChar       int                `json:"start_char"`
	EndChar         int                `json:"end_char"`
	FacetType       string             `json:"facet_type"`
	Score           float64            `json:"fused_score"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
	RerankScore     *float64           `json:"rerank_score,omitempty"`
	Spans           []SpanSegment      `json:"spans,omitempty"`
}

// RetrievalResult is the public output of one retrieve call.
type RetrievalResult struct {
	Passages  []Passage `json:"results"`
	Warnings  []string  `json:"warnings"`
	Degraded  bool      `json:"degraded,omitempty"`
	FromCache bool      `json:"-"`
}
