package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/attestor/internal/models"
)

func TestTermFrequencyEmbedder(t *testing.T) {
	e := NewTermFrequencyEmbedder(64)
	assert.Equal(t, 64, e.Dimension())

	// Deterministic and L2 normalized.
	a := e.Embed("customer identification procedures")
	b := e.Embed("customer identification procedures")
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)

	// Empty text embeds to the zero vector.
	zero := e.Embed("")
	for _, v := range zero {
		assert.Zero(t, v)
	}

	// Non-positive dimension falls back to the default.
	assert.Equal(t, 256, NewTermFrequencyEmbedder(0).Dimension())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"board", "level", "oversight", "2024"}, tokenize("Board-level oversight, 2024!"))
	// Single-character tokens are dropped.
	assert.Empty(t, tokenize("a b c"))
}

func TestMemoryIndexQuery(t *testing.T) {
	index := NewMemoryIndex(NewTermFrequencyEmbedder(256))
	ctx := context.Background()

	require.NoError(t, index.AddChunks(ctx, "c", []models.Chunk{
		{DocID: "d1", Text: "customer identification at onboarding"},
		{DocID: "d2", Text: "transaction monitoring alert review"},
		{DocID: "d3", Text: "annual compliance training for staff"},
	}))

	results, err := index.Query(ctx, "c", "transaction monitoring", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d2", results[0].DocID)
	assert.Equal(t, 0, results[0].Rank)
	assert.GreaterOrEqual(t, results[0].ScoreValue(), results[1].ScoreValue())
	// Chunks are stamped with their collection on insert.
	assert.Equal(t, "c", results[0].SourceCollection)
}

func TestMemoryIndexLexicalQuery(t *testing.T) {
	index := NewMemoryIndex(NewTermFrequencyEmbedder(256))
	ctx := context.Background()

	require.NoError(t, index.AddChunks(ctx, "c", []models.Chunk{
		{DocID: "d1", Text: "customer identification at onboarding"},
		{DocID: "d2", Text: "transaction monitoring alert review"},
	}))

	results, err := index.LexicalQuery(ctx, "c", "monitoring alert escalation", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].DocID)
	// Two of three query terms matched.
	assert.InDelta(t, 2.0/3.0, results[0].ScoreValue(), 1e-9)

	// No matching terms yields empty, not an error.
	none, err := index.LexicalQuery(ctx, "c", "zzz qqq", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryIndexDeleteCollection(t *testing.T) {
	index := NewMemoryIndex(NewTermFrequencyEmbedder(256))
	ctx := context.Background()

	require.NoError(t, index.AddChunks(ctx, "c", []models.Chunk{{DocID: "d1", Text: "some text"}}))
	require.NoError(t, index.DeleteCollection(ctx, "c"))

	results, err := index.Query(ctx, "c", "some text", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCosineBounds(t *testing.T) {
	assert.Equal(t, 0.0, cosine(nil, nil))
	assert.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{0, 0}))
	assert.InDelta(t, 1.0, cosine([]float32{0.6, 0.8}, []float32{0.6, 0.8}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}))
}
