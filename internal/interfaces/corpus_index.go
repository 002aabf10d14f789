package interfaces

import (
	"context"

	"github.com/ternarybob/attestor/internal/models"
)

// CorpusIndex is the opaque nearest-neighbor store of text chunks the
// retrieval engine queries. Chunks are addressed by collection name
// (framework:<id>, assessment:<firm>, evidence:<firm>).
//
// An absent or empty collection yields an empty result, never an error;
// a firm with no uploaded evidence is a normal state.
type CorpusIndex interface {
	// Query returns up to k chunks ranked by vector similarity.
	Query(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error)

	// LexicalQuery returns up to k chunks ranked by keyword match.
	// Used by the hybrid retrieval strategy.
	LexicalQuery(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error)
}

// CorpusWriter ingests chunks into a collection. Extraction and
// chunking of source documents happen upstream; the writer receives
// ready-made chunks.
type CorpusWriter interface {
	AddChunks(ctx context.Context, collection string, chunks []models.Chunk) error
	DeleteCollection(ctx context.Context, collection string) error
}
