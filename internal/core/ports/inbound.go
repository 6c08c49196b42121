package ports

import (
	"context"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

// RetrievalRequest is the transport-agnostic shape of one retrieve call.
type RetrievalRequest struct {
	Query   string
	Intent  string
	Filters domain.Filters
	TopK    int
	Rerank  bool
	Explain bool
	Pinned  bool
}

// RetrievalAPI is the single operation this service exposes.
type RetrievalAPI interface {
	Retrieve(ctx context.Context, req RetrievalRequest) (*domain.RetrievalResult, error)
}
