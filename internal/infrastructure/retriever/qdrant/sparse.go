package qdrant

import (
	"context"
	"fmt"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/resilience"
)

// SparseRetriever scores the query-side term expansion against precomputed
// sparse term-weight vectors by dot product.
type SparseRetriever struct {
	client     *Client
	collection string
	executor   *resilience.Executor
}

func NewSparseRetriever(client *Client, collection string, executor *resilience.Executor) *SparseRetriever {
	return &SparseRetriever{client: client, collection: collection, executor: executor}
}

func (r *SparseRetriever) Name() string { return "sparse" }

func (r *SparseRetriever) Search(ctx context.Context, query domain.Query, topK int) ([]domain.ScoredUnit, error) {
	codeValues := make([]string, 0, len(query.Codes))
	for _, code := range query.Codes {
		codeValues = append(codeValues, code.Value)
	}
	vector := encodeSparseQuery(query.Canonical, query.ExpansionTerms, codeValues)
	if len(vector.Indices) == 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"query":        map[string]any{"indices": vector.Indices, "values": vector.Values},
		"using":        "sparse",
		"limit":        topK,
		"with_payload": true,
	}
	if filter := payloadFilter(query.Filters); filter != nil {
		reqBody["filter"] = filter
	}

	var resp struct {
		Result struct {
			Points []searchHit `json:"points"`
		} `json:"result"`
	}
	call := func(ctx context.Context) error {
		return r.client.postJSON(ctx, fmt.Sprintf("/collections/%s/points/query", r.collection), reqBody, &resp)
	}

	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "qdrant.sparse", call, resilience.ClassifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return hitsToUnits(resp.Result.Points, query.Filters.MinScore), nil
}
