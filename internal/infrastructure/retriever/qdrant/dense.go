package qdrant

import (
	"context"
	"fmt"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/resilience"
)

// DenseRetriever runs cosine nearest-neighbor search over the precomputed
// unit embeddings. The query-side vector comes from the embedding
// collaborator; this service never embeds documents.
type DenseRetriever struct {
	client     *Client
	collection string
	embedder   ports.QueryEmbedder
	executor   *resilience.Executor
}

func NewDenseRetriever(client *Client, collection string, embedder ports.QueryEmbedder, executor *resilience.Executor) *DenseRetriever {
	return &DenseRetriever{
		client:     client,
		collection: collection,
		embedder:   embedder,
		executor:   executor,
	}
}

func (r *DenseRetriever) Name() string { return "dense" }

func (r *DenseRetriever) Search(ctx context.Context, query domain.Query, topK int) ([]domain.ScoredUnit, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query.Canonical)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if filter := payloadFilter(query.Filters); filter != nil {
		reqBody["filter"] = filter
	}

	var resp struct {
		Result []searchHit `json:"result"`
	}
	call := func(ctx context.Context) error {
		return r.client.postJSON(ctx, fmt.Sprintf("/collections/%s/points/search", r.collection), reqBody, &resp)
	}

	if r.executor != nil {
		err = r.executor.Execute(ctx, "qdrant.dense", call, resilience.ClassifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return hitsToUnits(resp.Result, query.Filters.MinScore), nil
}
