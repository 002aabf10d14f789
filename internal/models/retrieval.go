package models

import "fmt"

// RetrievalStrategy selects the algorithm used to rank chunks.
type RetrievalStrategy string

const (
	// StrategyCosine ranks by plain vector similarity.
	StrategyCosine RetrievalStrategy = "cosine"
	// StrategyMMR diversifies results via maximal marginal relevance.
	StrategyMMR RetrievalStrategy = "mmr"
	// StrategyHybrid fuses vector and lexical rankings with reciprocal rank fusion.
	StrategyHybrid RetrievalStrategy = "hybrid"
)

// ParseRetrievalStrategy validates a strategy string. The empty string
// maps to cosine.
func ParseRetrievalStrategy(s string) (RetrievalStrategy, error) {
	switch RetrievalStrategy(s) {
	case "":
		return StrategyCosine, nil
	case StrategyCosine, StrategyMMR, StrategyHybrid:
		return RetrievalStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown retrieval strategy: %q", s)
	}
}
