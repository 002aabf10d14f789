package badger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// chunkRecord is the stored form of one indexed chunk. The embedding
// vector is computed at ingest time by the configured embedder; Seq
// preserves insertion order for stable tie-breaks at query time.
type chunkRecord struct {
	Key        string `badgerhold:"key"`
	Collection string
	Seq        int
	Chunk      models.Chunk
	Vector     []float32
}

// CorpusStorage implements interfaces.CorpusIndex and CorpusWriter on
// Badger: a persistent, linearly scanned nearest-neighbor index.
// Collections here are small per-firm document sets; a scan keeps the
// store free of index maintenance.
type CorpusStorage struct {
	db       *BadgerDB
	embedder interfaces.Embedder
	logger   arbor.ILogger
}

var (
	_ interfaces.CorpusIndex  = (*CorpusStorage)(nil)
	_ interfaces.CorpusWriter = (*CorpusStorage)(nil)
)

// NewCorpusStorage creates a new CorpusStorage instance
func NewCorpusStorage(db *BadgerDB, embedder interfaces.Embedder, logger arbor.ILogger) *CorpusStorage {
	return &CorpusStorage{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
}

// AddChunks indexes chunks into a collection, embedding each text
func (s *CorpusStorage) AddChunks(ctx context.Context, collection string, chunks []models.Chunk) error {
	if collection == "" {
		return fmt.Errorf("collection name is required")
	}

	count, err := s.db.Store().Count(&chunkRecord{}, badgerhold.Where("Collection").Eq(collection))
	if err != nil {
		return fmt.Errorf("failed to count collection %s: %w", collection, err)
	}

	seq := int(count)
	for _, chunk := range chunks {
		chunk.SourceCollection = collection
		record := chunkRecord{
			Key:        fmt.Sprintf("%s#%06d", collection, seq),
			Collection: collection,
			Seq:        seq,
			Chunk:      chunk,
			Vector:     s.embedder.Embed(chunk.Text),
		}
		if err := s.db.Store().Upsert(record.Key, &record); err != nil {
			return fmt.Errorf("failed to index chunk: %w", err)
		}
		seq++
	}

	s.logger.Debug().
		Str("collection", collection).
		Int("chunks", len(chunks)).
		Msg("Chunks indexed")

	return nil
}

// DeleteCollection removes every chunk of a collection
func (s *CorpusStorage) DeleteCollection(ctx context.Context, collection string) error {
	err := s.db.Store().DeleteMatching(&chunkRecord{}, badgerhold.Where("Collection").Eq(collection))
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collection, err)
	}
	return nil
}

// Query returns up to k chunks ranked by cosine similarity to the
// query text. An absent collection yields an empty result.
func (s *CorpusStorage) Query(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	records, err := s.collectionRecords(collection)
	if err != nil || len(records) == 0 {
		return []models.ScoredChunk{}, err
	}

	queryVec := s.embedder.Embed(text)
	scored := make([]models.ScoredChunk, 0, len(records))
	for _, record := range records {
		score := cosineSimilarity(queryVec, record.Vector)
		sc := models.ScoredChunk{Chunk: record.Chunk}
		sc.Score = &score
		scored = append(scored, sc)
	}

	return topByScore(scored, k), nil
}

// LexicalQuery returns up to k chunks ranked by keyword overlap with
// the query, scored as the matched fraction of query terms.
func (s *CorpusStorage) LexicalQuery(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	records, err := s.collectionRecords(collection)
	if err != nil || len(records) == 0 {
		return []models.ScoredChunk{}, err
	}

	terms := lexicalTerms(text)
	if len(terms) == 0 {
		return []models.ScoredChunk{}, nil
	}

	scored := make([]models.ScoredChunk, 0, len(records))
	for _, record := range records {
		haystack := strings.ToLower(record.Chunk.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(terms))
		sc := models.ScoredChunk{Chunk: record.Chunk}
		sc.Score = &score
		scored = append(scored, sc)
	}

	return topByScore(scored, k), nil
}

// collectionRecords loads a collection in insertion order
func (s *CorpusStorage) collectionRecords(collection string) ([]chunkRecord, error) {
	var records []chunkRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("Collection").Eq(collection)); err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// topByScore sorts by descending score, stable on insertion order, and
// assigns ranks
func topByScore(scored []models.ScoredChunk, k int) []models.ScoredChunk {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].ScoreValue() > scored[j].ScoreValue()
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Rank = i
	}
	return scored
}

// cosineSimilarity computes similarity between two vectors, clamped to [0,1]
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// lexicalTerms lowercases and splits a query into match terms
func lexicalTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
