package models

import (
	"fmt"
	"unicode/utf8"
)

// Chunk represents a bounded span of source text with provenance.
// Chunks are immutable once retrieved and live only for the duration
// of the run that retrieved them (plus the optional debug record).
type Chunk struct {
	DocID            string `json:"doc_id"`
	Page             int    `json:"page,omitempty"`
	Text             string `json:"text"`
	SourceCollection string `json:"source_collection"`
}

// ScoredChunk is a Chunk with its retrieval score and rank.
// Score is a similarity in [0,1]; nil when the collection has no
// score semantics. Result lists order by descending score with ties
// broken by original insertion order.
type ScoredChunk struct {
	Chunk
	Score *float64 `json:"score"`
	Rank  int      `json:"rank"`
}

// ScoreValue returns the score or 0 when the chunk carries none.
func (s ScoredChunk) ScoreValue() float64 {
	if s.Score == nil {
		return 0
	}
	return *s.Score
}

// RagDebugRow is a truncated, human-readable echo of a ScoredChunk,
// kept only when debug capture is requested on a run.
type RagDebugRow struct {
	DocID   string   `json:"doc_id"`
	Page    int      `json:"page"`
	Score   *float64 `json:"score"`
	Preview string   `json:"preview"`
	Source  string   `json:"source"`
}

const ragPreviewLen = 400

// DebugRow converts a scored chunk into its debug echo.
func (s ScoredChunk) DebugRow() RagDebugRow {
	preview := s.Text
	if len(preview) > ragPreviewLen {
		// Cut on a rune boundary so the preview stays valid UTF-8.
		cut := ragPreviewLen
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	return RagDebugRow{
		DocID:   s.DocID,
		Page:    s.Page,
		Score:   s.Score,
		Preview: preview,
		Source:  s.SourceCollection,
	}
}

// Collection name helpers. The corpus index partitions chunks into
// named collections per framework and per firm.

// FrameworkCollection returns the guideline collection name for a framework.
func FrameworkCollection(framework string) string {
	return fmt.Sprintf("framework:%s", framework)
}

// AssessmentCollection returns the self-assessment collection name for a firm.
func AssessmentCollection(firm string) string {
	return fmt.Sprintf("assessment:%s", firm)
}

// EvidenceCollection returns the supporting-evidence collection name for a firm.
func EvidenceCollection(firm string) string {
	return fmt.Sprintf("evidence:%s", firm)
}
