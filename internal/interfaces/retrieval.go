package interfaces

import (
	"context"

	"github.com/ternarybob/attestor/internal/models"
)

// Retriever returns the chunks most relevant to a query from one
// collection under a selected retrieval strategy.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query string, k int, strategy models.RetrievalStrategy) ([]models.ScoredChunk, error)
}
