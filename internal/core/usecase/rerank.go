package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// RerankConfig bounds the cross-encoder pass.
type RerankConfig struct {
	TopN          int
	MinPinnedRank int
	Timeout       time.Duration
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		TopN:          100,
		MinPinnedRank: 10,
		Timeout:       2 * time.Second,
	}
}

// Reranker reorders the top fused candidates with a cross-encoder model.
// Candidates whose unit carries a code the query asked for by identifier are
// pinned into the top ranks regardless of model output.
type Reranker struct {
	model ports.RerankModel
	cfg   RerankConfig
}

func NewReranker(model ports.RerankModel, cfg RerankConfig) *Reranker {
	def := DefaultRerankConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.MinPinnedRank <= 0 {
		cfg.MinPinnedRank = def.MinPinnedRank
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Reranker{model: model, cfg: cfg}
}

// Rerank returns the reordered results and whether the rerank pass was
// skipped. On model timeout or error the fused ordering is returned unchanged.
func (r *Reranker) Rerank(
	ctx context.Context,
	query domain.Query,
	fused []domain.FusedResult,
	units map[string]domain.RetrievalUnit,
) ([]domain.FusedResult, bool) {
	if r.model == nil || len(fused) == 0 {
		return fused, r.model == nil
	}

	topN := r.cfg.TopN
	if topN > len(fused) {
		topN = len(fused)
	}
	head := make([]domain.FusedResult, topN)
	copy(head, fused[:topN])

	texts := make([]string, len(head))
	for i, fr := range head {
		texts[i] = units[fr.UnitID].Text
	}

	scoreCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	scores, err := r.model.ScoreBatch(scoreCtx, query.Canonical, texts)
	if err != nil || len(scores) != len(head) {
		slog.Warn("rerank_skipped", "error", err, "candidates", len(head))
		return fused, true
	}

	for i := range head {
		s := scores[i]
		head[i].RerankScore = &s
	}
	sort.SliceStable(head, func(i, j int) bool {
		if *head[i].RerankScore != *head[j].RerankScore {
			return *head[i].RerankScore > *head[j].RerankScore
		}
		return head[i].UnitID < head[j].UnitID
	})

	head = r.pinCodeMatches(query, head, units)

	if topN == len(fused) {
		return head, false
	}
	out := make([]domain.FusedResult, 0, len(fused))
	out = append(out, head...)
	out = append(out, fused[topN:]...)
	return out, false
}

// pinCodeMatches lifts candidates whose unit matches a deterministic query
// code so they never fall below the configured minimum rank. Relative order
// among lifted candidates is preserved.
func (r *Reranker) pinCodeMatches(
	query domain.Query,
	head []domain.FusedResult,
	units map[string]domain.RetrievalUnit,
) []domain.FusedResult {
	if len(query.Codes) == 0 || len(head) <= r.cfg.MinPinnedRank {
		return head
	}

	cutoff := r.cfg.MinPinnedRank
	var pinned, rest []domain.FusedResult
	for i, fr := range head {
		if i >= cutoff && unitMatchesQueryCode(query, units[fr.UnitID]) {
			pinned = append(pinned, fr)
			continue
		}
		rest = append(rest, fr)
	}
	if len(pinned) == 0 {
		return head
	}

	insertAt := cutoff - len(pinned)
	if insertAt < 0 {
		insertAt = 0
	}
	out := make([]domain.FusedResult, 0, len(head))
	out = append(out, rest[:insertAt]...)
	out = append(out, pinned...)
	out = append(out, rest[insertAt:]...)
	return out
}

func unitMatchesQueryCode(query domain.Query, unit domain.RetrievalUnit) bool {
	for _, code := range unit.Codes {
		if query.HasCode(code) {
			return true
		}
	}
	return false
}
