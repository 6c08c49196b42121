package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// RetrievalConfig bounds the orchestrated pipeline.
type RetrievalConfig struct {
	DefaultTopK        int
	MaxTopK            int
	CandidateTopK      int
	AdapterTimeout     time.Duration
	GraphIntents       []domain.Intent
	GraphMinCandidates int
	CacheTTL           time.Duration
	PinnedCacheTTL     time.Duration
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		DefaultTopK:        20,
		MaxTopK:            200,
		CandidateTopK:      100,
		AdapterTimeout:     1500 * time.Millisecond,
		GraphIntents:       []domain.Intent{domain.IntentInteraction, domain.IntentEligibility},
		GraphMinCandidates: 10,
		CacheTTL:           5 * time.Minute,
		PinnedCacheTTL:     time.Hour,
	}
}

// RetrievalObserver receives pipeline measurements. Implemented by the
// Prometheus metrics package; a nil observer disables instrumentation.
type RetrievalObserver interface {
	ObserveAdapter(backend string, elapsed time.Duration, err error)
	ObserveCache(hit bool)
	ObserveFusion(mode FusionMode, candidates int)
	ObserveRequest(intent domain.Intent, elapsed time.Duration, results int, degraded bool)
}

// RetrievalService sequences canonicalization, intent classification, cache
// lookup, parallel adapter fan-out, fusion, optional rerank, passage
// assembly, deduplication, and cache store.
type RetrievalService struct {
	canonicalizer *Canonicalizer
	classifier    *IntentClassifier
	primaries     []ports.Retriever
	graph         ports.Retriever
	fusion        *FusionEngine
	reranker      *Reranker
	units         ports.UnitStore
	assembler     *PassageAssembler
	cache         ports.ResultCache
	versions      ports.VersionSource
	observer      RetrievalObserver
	cfg           RetrievalConfig
}

func NewRetrievalService(
	canonicalizer *Canonicalizer,
	classifier *IntentClassifier,
	primaries []ports.Retriever,
	graph ports.Retriever,
	fusion *FusionEngine,
	reranker *Reranker,
	units ports.UnitStore,
	assembler *PassageAssembler,
	cache ports.ResultCache,
	versions ports.VersionSource,
	observer RetrievalObserver,
	cfg RetrievalConfig,
) *RetrievalService {
	def := DefaultRetrievalConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.CandidateTopK <= 0 {
		cfg.CandidateTopK = def.CandidateTopK
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = def.AdapterTimeout
	}
	if cfg.GraphMinCandidates <= 0 {
		cfg.GraphMinCandidates = def.GraphMinCandidates
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.PinnedCacheTTL <= 0 {
		cfg.PinnedCacheTTL = def.PinnedCacheTTL
	}
	return &RetrievalService{
		canonicalizer: canonicalizer,
		classifier:    classifier,
		primaries:     primaries,
		graph:         graph,
		fusion:        fusion,
		reranker:      reranker,
		units:         units,
		assembler:     assembler,
		cache:         cache,
		versions:      versions,
		observer:      observer,
		cfg:           cfg,
	}
}

// Retrieve is the single public operation of this service.
func (s *RetrievalService) Retrieve(ctx context.Context, req ports.RetrievalRequest) (*domain.RetrievalResult, error) {
	start := time.Now()

	query, err := s.buildQuery(ctx, req)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if query.ExpansionSkipped {
		warnings = append(warnings, "concept expansion skipped: catalog unavailable")
	}

	key := s.cacheKey(query)
	if cached := s.cacheLookup(ctx, key, &warnings); cached != nil {
		passages := cached.Passages
		if !query.Explain {
			passages = stripExplainDetail(passages)
		}
		result := &domain.RetrievalResult{
			Passages:  passages,
			Warnings:  mergeWarnings(warnings, cached.Warnings),
			FromCache: true,
		}
		s.observe(query, start, len(result.Passages), false)
		return result, nil
	}

	rankings, degraded, fanoutWarnings, err := s.fanOut(ctx, query)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, fanoutWarnings...)

	fused := s.fusion.Fuse(query.PrimaryIntent(), rankings)
	if s.observer != nil {
		s.observer.ObserveFusion(s.fusion.Mode(query.PrimaryIntent()), len(fused))
	}

	units, err := s.fetchUnits(ctx, query, fused)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load units", err)
	}

	if query.Rerank && s.reranker != nil {
		reranked, skipped := s.reranker.Rerank(ctx, query, fused, units)
		if skipped {
			warnings = append(warnings, "rerank skipped")
		}
		fused = reranked
	}

	if len(fused) > query.TopK {
		fused = fused[:query.TopK]
	}

	passages, err := s.assembler.Assemble(ctx, fused, units)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "assemble passages", err)
	}
	passages = Deduplicate(passages)
	if len(passages) > query.TopK {
		passages = passages[:query.TopK]
	}

	result := &domain.RetrievalResult{
		Passages: passages,
		Warnings: warnings,
		Degraded: degraded,
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	// Degraded responses are computed from a partial backend set; caching
	// them would pin the gap for the whole TTL. The cached value keeps full
	// detail so one entry serves both explain settings.
	if !degraded {
		s.cacheStore(ctx, key, req.Pinned, result)
	}
	if !query.Explain {
		result.Passages = stripExplainDetail(result.Passages)
	}

	s.observe(query, start, len(passages), degraded)
	return result, nil
}

func (s *RetrievalService) buildQuery(ctx context.Context, req ports.RetrievalRequest) (domain.Query, error) {
	if req.TopK < 0 {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "validate", fmt.Errorf("topK must be positive"))
	}
	if !req.Filters.DateFrom.IsZero() && !req.Filters.DateTo.IsZero() && req.Filters.DateTo.Before(req.Filters.DateFrom) {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "validate", fmt.Errorf("date range inverted"))
	}

	query, err := s.canonicalizer.Canonicalize(ctx, req.Query, req.Filters)
	if err != nil {
		return domain.Query{}, err
	}

	if req.Intent != "" {
		query.Intents = []domain.IntentGuess{{Intent: domain.Intent(req.Intent), Confidence: 1.0}}
	} else {
		query.Intents = s.classifier.Classify(ctx, query.Canonical)
	}

	query.TopK = req.TopK
	if query.TopK == 0 {
		query.TopK = s.cfg.DefaultTopK
	}
	if query.TopK > s.cfg.MaxTopK {
		query.TopK = s.cfg.MaxTopK
	}
	query.Rerank = req.Rerank
	query.Explain = req.Explain
	return query, nil
}

// fanOut runs every primary adapter concurrently with an individual timeout
// and joins before fusion. The graph adapter participates when the intent
// asks for it, or as a second phase when the primaries came back thin.
func (s *RetrievalService) fanOut(ctx context.Context, query domain.Query) ([]BackendRanking, bool, []string, error) {
	adapters := make([]ports.Retriever, 0, len(s.primaries)+1)
	adapters = append(adapters, s.primaries...)
	if s.graph != nil && s.graphIntentMatch(query) {
		adapters = append(adapters, s.graph)
	}

	type outcome struct {
		backend string
		units   []domain.ScoredUnit
		err     error
	}
	results := make([]outcome, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter ports.Retriever) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
			defer cancel()

			callStart := time.Now()
			units, err := adapter.Search(callCtx, query, s.cfg.CandidateTopK)
			if s.observer != nil {
				s.observer.ObserveAdapter(adapter.Name(), time.Since(callStart), err)
			}
			results[i] = outcome{backend: adapter.Name(), units: units, err: err}
		}(i, adapter)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, false, nil, err
	}

	var rankings []BackendRanking
	var warnings []string
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			if domain.IsKind(res.err, context.DeadlineExceeded) {
				warnings = append(warnings, fmt.Sprintf("%s adapter timed out", res.backend))
			} else {
				warnings = append(warnings, fmt.Sprintf("%s adapter failed", res.backend))
			}
			slog.Warn("adapter_failed", "backend", res.backend, "error", res.err)
			continue
		}
		rankings = append(rankings, BackendRanking{Backend: res.backend, Units: res.units})
	}

	if len(rankings) == 0 {
		return nil, false, nil, domain.WrapError(domain.ErrRetrievalUnavailable, "fan-out", fmt.Errorf("all %d adapters failed", failed))
	}

	// Thin primary results pull in the graph path as a fallback.
	if s.graph != nil && !s.graphIntentMatch(query) && uniqueCandidates(rankings) < s.cfg.GraphMinCandidates {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
		callStart := time.Now()
		units, err := s.graph.Search(callCtx, query, s.cfg.CandidateTopK)
		cancel()
		if s.observer != nil {
			s.observer.ObserveAdapter(s.graph.Name(), time.Since(callStart), err)
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s adapter failed", s.graph.Name()))
			slog.Warn("adapter_failed", "backend", s.graph.Name(), "error", err)
			failed++
		} else if len(units) > 0 {
			rankings = append(rankings, BackendRanking{Backend: s.graph.Name(), Units: units})
		}
	}

	return rankings, failed > 0, warnings, nil
}

func (s *RetrievalService) graphIntentMatch(query domain.Query) bool {
	for _, intent := range s.cfg.GraphIntents {
		if query.HasIntent(intent) {
			return true
		}
	}
	return false
}

// fetchUnits loads unit records for every candidate that can still appear in
// the response: the rerank head plus the final page.
func (s *RetrievalService) fetchUnits(ctx context.Context, query domain.Query, fused []domain.FusedResult) (map[string]domain.RetrievalUnit, error) {
	need := query.TopK
	if s.reranker != nil && query.Rerank && s.reranker.cfg.TopN > need {
		need = s.reranker.cfg.TopN
	}
	if need > len(fused) {
		need = len(fused)
	}
	ids := make([]string, 0, need)
	for _, fr := range fused[:need] {
		ids = append(ids, fr.UnitID)
	}
	if len(ids) == 0 {
		return map[string]domain.RetrievalUnit{}, nil
	}
	return s.units.GetUnits(ctx, ids)
}

func (s *RetrievalService) cacheLookup(ctx context.Context, key string, warnings *[]string) *ports.CachedResult {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		*warnings = append(*warnings, "cache bypassed")
		slog.Warn("cache_read_failed", "error", err)
		if s.observer != nil {
			s.observer.ObserveCache(false)
		}
		return nil
	}
	if s.observer != nil {
		s.observer.ObserveCache(cached != nil)
	}
	return cached
}

func (s *RetrievalService) cacheStore(ctx context.Context, key string, pinned bool, result *domain.RetrievalResult) {
	if s.cache == nil {
		return
	}
	ttl := s.cfg.CacheTTL
	if pinned {
		ttl = s.cfg.PinnedCacheTTL
	}
	entry := ports.CachedResult{
		Passages: result.Passages,
		Warnings: result.Warnings,
		StoredAt: time.Now(),
	}
	if err := s.cache.Set(ctx, key, entry, ttl); err != nil {
		slog.Warn("cache_write_failed", "error", err)
	}
}

// cacheKey hashes everything that affects the cached value: canonical text,
// intents, filters, topK, rerank flag, and the active index generation. The
// explain flag is absent on purpose; entries hold full detail and stripping
// happens at response time.
func (s *RetrievalService) cacheKey(query domain.Query) string {
	intents := make([]string, 0, len(query.Intents))
	for _, g := range query.Intents {
		intents = append(intents, string(g.Intent))
	}
	sort.Strings(intents)
	filters, _ := json.Marshal(query.Filters)

	version := ""
	if s.versions != nil {
		version = s.versions.Current()
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%t|%s",
		query.Canonical,
		strings.Join(intents, ","),
		filters,
		query.TopK,
		query.Rerank,
		version,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// stripExplainDetail drops per-backend scores and span tables. It copies the
// slice because cached entries share their backing array with responses.
func stripExplainDetail(passages []domain.Passage) []domain.Passage {
	out := make([]domain.Passage, len(passages))
	copy(out, passages)
	for i := range out {
		out[i].ComponentScores = nil
		out[i].Spans = nil
	}
	return out
}

// mergeWarnings joins request-local warnings with the cached ones; a warning
// raised on both computations appears once.
func mergeWarnings(local, cached []string) []string {
	out := make([]string, 0, len(local)+len(cached))
	seen := make(map[string]bool, len(local)+len(cached))
	for _, w := range local {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range cached {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func (s *RetrievalService) observe(query domain.Query, start time.Time, results int, degraded bool) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveRequest(query.PrimaryIntent(), time.Since(start), results, degraded)
}

func uniqueCandidates(rankings []BackendRanking) int {
	seen := make(map[string]bool)
	for _, r := range rankings {
		for _, u := range r.Units {
			seen[u.UnitID] = true
		}
	}
	return len(seen)
}
