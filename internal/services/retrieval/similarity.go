package retrieval

import (
	"sort"
	"strings"

	"github.com/ternarybob/attestor/internal/models"
)

// textSimilarity measures token-set overlap (Jaccard) between two
// chunk texts. The corpus index is opaque, so redundancy between
// already-selected chunks is judged on their text.
func textSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			set[f] = true
		}
	}
	return set
}

func sortByScoreStable(chunks []models.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ScoreValue() > chunks[j].ScoreValue()
	})
}
