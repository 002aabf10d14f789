package corpus

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

type memoryEntry struct {
	chunk  models.Chunk
	vector []float32
}

// MemoryIndex is an in-process CorpusIndex for tests and local runs.
// Collections are plain slices scanned on every query; insertion order
// is the tie-break order the retrieval contract requires.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string][]memoryEntry
	embedder    interfaces.Embedder
}

var (
	_ interfaces.CorpusIndex  = (*MemoryIndex)(nil)
	_ interfaces.CorpusWriter = (*MemoryIndex)(nil)
)

// NewMemoryIndex creates an empty in-memory corpus index
func NewMemoryIndex(embedder interfaces.Embedder) *MemoryIndex {
	return &MemoryIndex{
		collections: make(map[string][]memoryEntry),
		embedder:    embedder,
	}
}

// AddChunks indexes chunks into a collection
func (m *MemoryIndex) AddChunks(ctx context.Context, collection string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		chunk.SourceCollection = collection
		m.collections[collection] = append(m.collections[collection], memoryEntry{
			chunk:  chunk,
			vector: m.embedder.Embed(chunk.Text),
		})
	}
	return nil
}

// DeleteCollection drops a collection
func (m *MemoryIndex) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Query returns up to k chunks by cosine similarity
func (m *MemoryIndex) Query(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	entries := m.collections[collection]
	m.mu.RUnlock()

	if len(entries) == 0 {
		return []models.ScoredChunk{}, nil
	}

	queryVec := m.embedder.Embed(text)
	scored := make([]models.ScoredChunk, 0, len(entries))
	for _, entry := range entries {
		score := cosine(queryVec, entry.vector)
		sc := models.ScoredChunk{Chunk: entry.chunk}
		sc.Score = &score
		scored = append(scored, sc)
	}
	return rankTop(scored, k), nil
}

// LexicalQuery returns up to k chunks by matched query-term fraction
func (m *MemoryIndex) LexicalQuery(ctx context.Context, collection, text string, k int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	entries := m.collections[collection]
	m.mu.RUnlock()

	if len(entries) == 0 {
		return []models.ScoredChunk{}, nil
	}

	terms := tokenize(text)
	if len(terms) == 0 {
		return []models.ScoredChunk{}, nil
	}

	scored := make([]models.ScoredChunk, 0, len(entries))
	for _, entry := range entries {
		haystack := strings.ToLower(entry.chunk.Text)
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
		sc := models.ScoredChunk{Chunk: entry.chunk}
		sc.Score = &score
		scored = append(scored, sc)
	}
	return rankTop(scored, k), nil
}

func rankTop(scored []models.ScoredChunk, k int) []models.ScoredChunk {
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

func cosine(a, b []float32) float64 {
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
