package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/models"
	"github.com/ternarybob/attestor/internal/services/corpus"
)

func testConfig() *common.RetrievalConfig {
	return &common.RetrievalConfig{
		TopK:                6,
		CandidateMultiplier: 4,
		MMRLambda:           0.5,
		RRFConstant:         60,
	}
}

func seededIndex(t *testing.T) *corpus.MemoryIndex {
	t.Helper()
	index := corpus.NewMemoryIndex(corpus.NewTermFrequencyEmbedder(256))
	chunks := []models.Chunk{
		{DocID: "a", Page: 1, Text: "customer identification procedures verify identity documents at onboarding"},
		{DocID: "a", Page: 2, Text: "customer identification procedures repeat verification for high risk customers"},
		{DocID: "b", Page: 1, Text: "transaction monitoring alerts are reviewed daily by the compliance team"},
		{DocID: "c", Page: 1, Text: "board oversight includes quarterly compliance program reporting"},
		{DocID: "d", Page: 1, Text: "staff training covers identification and monitoring obligations"},
	}
	require.NoError(t, index.AddChunks(context.Background(), "evidence:acme", chunks))
	return index
}

func TestRetrieveCosine(t *testing.T) {
	svc := NewService(seededIndex(t), testConfig(), common.GetLogger())

	results, err := svc.Retrieve(context.Background(), "evidence:acme", "customer identification procedures", 3, models.StrategyCosine)

	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 3)
	require.NotEmpty(t, results)

	// Descending score, ranks assigned sequentially from zero.
	for i, r := range results {
		assert.Equal(t, i, r.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].ScoreValue(), r.ScoreValue())
		}
		assert.GreaterOrEqual(t, r.ScoreValue(), 0.0)
		assert.LessOrEqual(t, r.ScoreValue(), 1.0)
	}
	assert.Equal(t, "a", results[0].DocID)
}

func TestRetrieveDefaultKAndEmptyStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.TopK = 2
	svc := NewService(seededIndex(t), cfg, common.GetLogger())

	results, err := svc.Retrieve(context.Background(), "evidence:acme", "identification", 0, "")

	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}

func TestRetrieveUnknownStrategy(t *testing.T) {
	svc := NewService(seededIndex(t), testConfig(), common.GetLogger())

	_, err := svc.Retrieve(context.Background(), "evidence:acme", "q", 3, "bm25")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown retrieval strategy")
}

func TestRetrieveEmptyCollection(t *testing.T) {
	svc := NewService(seededIndex(t), testConfig(), common.GetLogger())

	for _, strategy := range []models.RetrievalStrategy{models.StrategyCosine, models.StrategyMMR, models.StrategyHybrid} {
		results, err := svc.Retrieve(context.Background(), "evidence:absent", "anything", 3, strategy)
		require.NoError(t, err, "strategy %s", strategy)
		assert.Empty(t, results, "strategy %s", strategy)
	}
}

func TestMMRLambdaOneMatchesCosine(t *testing.T) {
	index := seededIndex(t)

	cfg := testConfig()
	cfg.MMRLambda = 1.0
	mmrSvc := NewService(index, cfg, common.GetLogger())
	cosineSvc := NewService(index, testConfig(), common.GetLogger())

	query := "customer identification procedures"
	mmrResults, err := mmrSvc.Retrieve(context.Background(), "evidence:acme", query, 3, models.StrategyMMR)
	require.NoError(t, err)
	cosineResults, err := cosineSvc.Retrieve(context.Background(), "evidence:acme", query, 3, models.StrategyCosine)
	require.NoError(t, err)

	require.Equal(t, len(cosineResults), len(mmrResults))
	for i := range cosineResults {
		assert.Equal(t, cosineResults[i].DocID, mmrResults[i].DocID)
		assert.Equal(t, cosineResults[i].Page, mmrResults[i].Page)
	}
}

func TestMMRDiversifies(t *testing.T) {
	svc := NewService(seededIndex(t), testConfig(), common.GetLogger())

	// The two near-duplicate doc "a" chunks dominate plain cosine;
	// MMR at lambda 0.5 should pull in a different document by rank 2.
	results, err := svc.Retrieve(context.Background(), "evidence:acme", "customer identification procedures", 2, models.StrategyMMR)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].DocID)
	assert.NotEqual(t, results[0].Page, results[1].Page)
}

func TestHybridFusion(t *testing.T) {
	svc := NewService(seededIndex(t), testConfig(), common.GetLogger())

	results, err := svc.Retrieve(context.Background(), "evidence:acme", "transaction monitoring alerts", 3, models.StrategyHybrid)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].DocID)
	for i, r := range results {
		assert.Greater(t, r.ScoreValue(), 0.0)
		assert.LessOrEqual(t, r.ScoreValue(), 1.0)
		assert.Equal(t, i, r.Rank)
	}
}

func TestReciprocalRankFusion(t *testing.T) {
	svc := NewService(nil, testConfig(), common.GetLogger())

	chunk := func(doc string) models.ScoredChunk {
		return models.ScoredChunk{Chunk: models.Chunk{DocID: doc, Page: 1, Text: doc}}
	}

	// "x" is first in both lists; "y" and "z" appear once each.
	fusedResults := svc.reciprocalRankFusion(
		[]models.ScoredChunk{chunk("x"), chunk("y")},
		[]models.ScoredChunk{chunk("x"), chunk("z")},
		60,
	)

	require.Len(t, fusedResults, 3)
	assert.Equal(t, "x", fusedResults[0].DocID)
	// Ranked first in both lists normalizes to exactly 1.
	assert.InDelta(t, 1.0, fusedResults[0].ScoreValue(), 1e-9)
	// Same single-list rank ties break by first-seen order.
	assert.Equal(t, "y", fusedResults[1].DocID)
	assert.Equal(t, "z", fusedResults[2].DocID)
}

type flakyIndex struct {
	*corpus.MemoryIndex
	failVector  bool
	failLexical bool
}

func (f *flakyIndex) Query(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	if f.failVector {
		return nil, errors.New("vector backend down")
	}
	return f.MemoryIndex.Query(ctx, collection, text, k)
}

func (f *flakyIndex) LexicalQuery(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	if f.failLexical {
		return nil, errors.New("lexical backend down")
	}
	return f.MemoryIndex.LexicalQuery(ctx, collection, text, k)
}

func TestHybridDegradesToSurvivingSide(t *testing.T) {
	tests := []struct {
		name        string
		failVector  bool
		failLexical bool
		wantErr     bool
	}{
		{name: "vector down", failVector: true},
		{name: "lexical down", failLexical: true},
		{name: "both down", failVector: true, failLexical: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &flakyIndex{MemoryIndex: seededIndex(t), failVector: tt.failVector, failLexical: tt.failLexical}
			svc := NewService(index, testConfig(), common.GetLogger())

			results, err := svc.Retrieve(context.Background(), "evidence:acme", "transaction monitoring", 3, models.StrategyHybrid)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, results)
		})
	}
}

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("alpha beta gamma", "alpha beta gamma"))
	assert.Equal(t, 0.0, textSimilarity("alpha beta", "gamma delta"))
	mid := textSimilarity("alpha beta gamma", "alpha beta delta")
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
}
