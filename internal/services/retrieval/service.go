package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// Service implements the retrieval engine over an opaque corpus index.
// Three strategies: plain cosine top-k, MMR diversification, and
// hybrid vector+lexical fusion.
type Service struct {
	index  interfaces.CorpusIndex
	config *common.RetrievalConfig
	logger arbor.ILogger
}

var _ interfaces.Retriever = (*Service)(nil)

// NewService creates a new retrieval service
func NewService(index interfaces.CorpusIndex, config *common.RetrievalConfig, logger arbor.ILogger) *Service {
	return &Service{
		index:  index,
		config: config,
		logger: logger,
	}
}

// Retrieve returns up to k chunks relevant to the query from one
// collection. k <= 0 selects the configured default. An empty or
// absent collection yields an empty result, never an error.
func (s *Service) Retrieve(ctx context.Context, collection, query string, k int, strategy models.RetrievalStrategy) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = s.config.TopK
	}

	var (
		results []models.ScoredChunk
		err     error
	)
	switch strategy {
	case models.StrategyCosine, "":
		results, err = s.index.Query(ctx, collection, query, k)
	case models.StrategyMMR:
		results, err = s.mmr(ctx, collection, query, k)
	case models.StrategyHybrid:
		results, err = s.hybrid(ctx, collection, query, k)
	default:
		return nil, fmt.Errorf("unknown retrieval strategy: %q", strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", collection, err)
	}

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i
	}

	s.logger.Debug().
		Str("collection", collection).
		Str("strategy", string(strategy)).
		Int("k", k).
		Int("results", len(results)).
		Msg("Retrieval completed")

	return results, nil
}

// mmr selects k chunks from a larger candidate pool by maximal
// marginal relevance: each step takes the candidate maximizing
// lambda*relevance - (1-lambda)*maxSimilarityToSelected. With
// lambda=1 the selection degenerates to plain cosine top-k.
func (s *Service) mmr(ctx context.Context, collection, query string, k int) ([]models.ScoredChunk, error) {
	poolSize := k * s.config.CandidateMultiplier
	pool, err := s.index.Query(ctx, collection, query, poolSize)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return []models.ScoredChunk{}, nil
	}

	lambda := s.config.MMRLambda
	selected := make([]models.ScoredChunk, 0, k)
	remaining := make([]models.ScoredChunk, len(pool))
	copy(remaining, pool)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestGain := 0.0
		for i, candidate := range remaining {
			redundancy := 0.0
			for _, chosen := range selected {
				if sim := textSimilarity(candidate.Text, chosen.Text); sim > redundancy {
					redundancy = sim
				}
			}
			gain := lambda*candidate.ScoreValue() - (1-lambda)*redundancy
			// Strict comparison keeps the earlier (higher-ranked)
			// candidate on ties, preserving stable ordering.
			if bestIdx == -1 || gain > bestGain {
				bestIdx = i
				bestGain = gain
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}

// hybrid issues vector and lexical queries in parallel and merges the
// two rankings with reciprocal rank fusion.
func (s *Service) hybrid(ctx context.Context, collection, query string, k int) ([]models.ScoredChunk, error) {
	var (
		vectorResults, lexicalResults []models.ScoredChunk
		vectorErr, lexicalErr         error
		wg                            sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = s.index.Query(ctx, collection, query, k)
	}()
	go func() {
		defer wg.Done()
		lexicalResults, lexicalErr = s.index.LexicalQuery(ctx, collection, query, k)
	}()
	wg.Wait()

	// Degrade to whichever side succeeded; both failing is an error.
	if vectorErr != nil && lexicalErr != nil {
		return nil, fmt.Errorf("hybrid search: vector=%w, lexical=%v", vectorErr, lexicalErr)
	}
	if vectorErr != nil {
		s.logger.Warn().Err(vectorErr).Str("collection", collection).Msg("Hybrid search: vector query failed, using lexical results only")
		return lexicalResults, nil
	}
	if lexicalErr != nil {
		s.logger.Warn().Err(lexicalErr).Str("collection", collection).Msg("Hybrid search: lexical query failed, using vector results only")
		return vectorResults, nil
	}

	return s.reciprocalRankFusion(vectorResults, lexicalResults, s.config.RRFConstant), nil
}

// reciprocalRankFusion merges two ranked lists. c is the fusion
// constant (typically 60) preventing top ranks from dominating. The
// fused score is normalized so a chunk ranked first in both lists
// scores 1.0.
func (s *Service) reciprocalRankFusion(list1, list2 []models.ScoredChunk, c int) []models.ScoredChunk {
	type fused struct {
		chunk models.ScoredChunk
		score float64
		order int // first-seen position, stable tie-break
	}

	byDoc := make(map[string]*fused)
	ordered := make([]*fused, 0, len(list1)+len(list2))

	accumulate := func(list []models.ScoredChunk) {
		for rank, chunk := range list {
			key := chunkKey(chunk.Chunk)
			rrf := 1.0 / float64(c+rank+1)
			if existing, ok := byDoc[key]; ok {
				existing.score += rrf
				continue
			}
			f := &fused{chunk: chunk, score: rrf, order: len(ordered)}
			byDoc[key] = f
			ordered = append(ordered, f)
		}
	}
	accumulate(list1)
	accumulate(list2)

	// Normalize by the maximum attainable fused score.
	maxScore := 2.0 / float64(c+1)

	results := make([]models.ScoredChunk, 0, len(ordered))
	for _, f := range ordered {
		normalized := f.score / maxScore
		chunk := f.chunk
		chunk.Score = &normalized
		results = append(results, chunk)
	}

	sortByScoreStable(results)
	return results
}

func chunkKey(c models.Chunk) string {
	return fmt.Sprintf("%s#%d#%.24s", c.DocID, c.Page, c.Text)
}
