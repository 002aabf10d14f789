package corpus

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/ternarybob/attestor/internal/interfaces"
)

// TermFrequencyEmbedder is a deterministic bag-of-words embedder:
// tokens hash into a fixed number of buckets and the vector is L2
// normalized. It gives the corpus index usable similarity semantics
// without any model dependency, and is the embedder tests run against.
type TermFrequencyEmbedder struct {
	dim int
}

var _ interfaces.Embedder = (*TermFrequencyEmbedder)(nil)

// NewTermFrequencyEmbedder creates an embedder with the given
// dimension (<=0 selects the 256 default).
func NewTermFrequencyEmbedder(dim int) *TermFrequencyEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &TermFrequencyEmbedder{dim: dim}
}

// Dimension returns the embedding vector length
func (e *TermFrequencyEmbedder) Dimension() int {
	return e.dim
}

// Embed maps text to a normalized term-frequency vector
func (e *TermFrequencyEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%uint32(e.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1.0 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
