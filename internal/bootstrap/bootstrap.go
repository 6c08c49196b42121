package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/paul-heyse/medkg-retrieval/internal/config"
	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
	"github.com/paul-heyse/medkg-retrieval/internal/core/usecase"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/cache/memory"
	rediscache "github.com/paul-heyse/medkg-retrieval/internal/infrastructure/cache/redis"
	catalogpg "github.com/paul-heyse/medkg-retrieval/internal/infrastructure/catalog/postgres"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/embed/ollama"
	natsfeed "github.com/paul-heyse/medkg-retrieval/internal/infrastructure/queue/nats"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/rerank/crossencoder"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/resilience"
	neo4jretriever "github.com/paul-heyse/medkg-retrieval/internal/infrastructure/retriever/neo4j"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/retriever/postgres"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/retriever/qdrant"
	"github.com/paul-heyse/medkg-retrieval/internal/observability/metrics"
)

// App wires infrastructure into the retrieval pipeline and owns the
// resources that need closing on shutdown.
type App struct {
	Config config.Config

	Retrieval ports.RetrievalAPI
	Metrics   *metrics.RetrievalMetrics
	Versions  *natsfeed.VersionFeed

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	unitStore := postgres.NewUnitStore(db)
	lexical := postgres.NewLexicalRetriever(db, postgres.DefaultFieldWeights(), resilience.NewExecutor(resilience.DefaultConfig()))
	catalog := catalogpg.NewConceptCatalog(db, 0)

	qdrantClient := qdrant.NewClient(cfg.QdrantURL)
	embedder := ollama.NewEmbedder(cfg.EmbedURL, cfg.EmbedModel)
	dense := qdrant.NewDenseRetriever(qdrantClient, cfg.QdrantDenseCollection, embedder, resilience.NewExecutor(resilience.DefaultConfig()))
	sparse := qdrant.NewSparseRetriever(qdrantClient, cfg.QdrantSparseCollection, resilience.NewExecutor(resilience.DefaultConfig()))

	primaries := []ports.Retriever{lexical, sparse, dense}

	var graph ports.Retriever
	var closeGraph func()
	if cfg.GraphEnabled {
		graphRetriever, err := neo4jretriever.NewGraphRetriever(
			cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword,
			cfg.GraphMaxHops, resilience.NewExecutor(resilience.DefaultConfig()),
		)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init graph retriever: %w", err)
		}
		graph = graphRetriever
		closeGraph = func() { _ = graphRetriever.Close(context.Background()) }
	}

	rules, err := usecase.LoadClassifierRules(cfg.IntentRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load intent rules: %w", err)
	}
	classifier := usecase.NewIntentClassifier(rules, usecase.NewLinearIntentScorer(nil, nil))
	canonicalizer := usecase.NewCanonicalizer(catalog, cfg.ConceptTimeout)

	fusionCfg := usecase.FusionConfig{
		Mode: usecase.FusionMode(cfg.FusionMode),
		Weights: map[string]float64{
			usecase.BackendLexical: cfg.LexicalWeight,
			usecase.BackendSparse:  cfg.SparseWeight,
			usecase.BackendDense:   cfg.DenseWeight,
			usecase.BackendGraph:   cfg.GraphWeight,
		},
		RRFK:       cfg.FusionRRFK,
		MinOverlap: cfg.FusionMinOverlap,
		Overrides:  rules.FusionOverrides,
	}
	fusion := usecase.NewFusionEngine(fusionCfg)

	var reranker *usecase.Reranker
	if cfg.RerankEnabled {
		model := crossencoder.NewClient(cfg.RerankURL, cfg.RerankTimeout)
		reranker = usecase.NewReranker(model, usecase.RerankConfig{
			TopN:          cfg.RerankTopN,
			MinPinnedRank: cfg.RerankMinPin,
			Timeout:       cfg.RerankTimeout,
		})
	}

	assembler := usecase.NewPassageAssembler(unitStore, usecase.AssemblerConfig{
		WindowChars:     cfg.MergeWindowChars,
		CosineThreshold: cfg.MergeCosineMin,
		MaxPassageChars: cfg.MergeMaxChars,
		BoundaryFacets:  cfg.MergeBoundaryFacets,
	})

	var cache ports.ResultCache
	var closeCache func()
	switch cfg.CacheBackend {
	case "redis":
		redisCache := rediscache.New(rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cache = redisCache
		closeCache = func() { _ = redisCache.Close() }
	default:
		cache = memory.New(cfg.CacheMaxEntries)
	}

	var versions ports.VersionSource = natsfeed.StaticVersion(cfg.IndexVersion)
	var feed *natsfeed.VersionFeed
	if cfg.NATSURL != "" {
		feed, err = natsfeed.NewVersionFeed(cfg.NATSURL, cfg.NATSVersionSubject, cfg.IndexVersion, natsfeed.Options{})
		if err != nil {
			slog.Warn("version_feed_unavailable", "error", err)
		} else {
			versions = feed
		}
	}

	retrievalMetrics := metrics.NewRetrievalMetrics("retrieval")

	service := usecase.NewRetrievalService(
		canonicalizer,
		classifier,
		primaries,
		graph,
		fusion,
		reranker,
		unitStore,
		assembler,
		cache,
		versions,
		retrievalMetrics,
		usecase.RetrievalConfig{
			DefaultTopK:        cfg.DefaultTopK,
			MaxTopK:            cfg.MaxTopK,
			CandidateTopK:      cfg.CandidateTopK,
			AdapterTimeout:     cfg.AdapterTimeout,
			GraphMinCandidates: cfg.GraphMinCandidates,
			GraphIntents:       []domain.Intent{domain.IntentInteraction, domain.IntentEligibility},
			CacheTTL:           cfg.CacheTTL,
			PinnedCacheTTL:     cfg.PinnedCacheTTL,
		},
	)

	return &App{
		Config:    cfg,
		Retrieval: service,
		Metrics:   retrievalMetrics,
		Versions:  feed,

		closeFn: func() {
			if feed != nil {
				feed.Close()
			}
			if closeCache != nil {
				closeCache()
			}
			if closeGraph != nil {
				closeGraph()
			}
			_ = db.Close()
		},
	}, nil
}

// MetricsHandler exposes the Prometheus registry endpoint.
func (a *App) MetricsHandler() http.Handler {
	return a.Metrics.Handler()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
