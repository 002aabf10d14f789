package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// Service evaluates taxonomy controls into findings. It runs a
// generative pathway when a backend is configured and reachable, and
// an evidence-presence heuristic otherwise. Evaluation is total: a
// generative failure degrades to the heuristic, never to an error.
type Service struct {
	llm    interfaces.LLMService // nil = deterministic only
	config *common.EvaluatorConfig
	logger arbor.ILogger
}

// NewService creates a findings evaluator. llm may be nil.
func NewService(llm interfaces.LLMService, config *common.EvaluatorConfig, logger arbor.ILogger) *Service {
	return &Service{
		llm:    llm,
		config: config,
		logger: logger,
	}
}

// Evaluate produces one finding for a control from the chunks
// retrieved across the three corpora.
func (s *Service) Evaluate(ctx context.Context, control models.Control, frameworkChunks, assessmentChunks, evidenceChunks []models.ScoredChunk) models.Finding {
	pkg := s.buildEvidencePackage(frameworkChunks, assessmentChunks, evidenceChunks)

	if s.llm != nil {
		finding, err := s.evaluateGenerative(ctx, control, pkg)
		if err == nil {
			return finding
		}
		s.logger.Warn().
			Err(err).
			Str("control_id", control.ControlID).
			Msg("Generative evaluation failed, using deterministic fallback")
	}

	return s.evaluateDeterministic(control, evidenceChunks)
}

// evidencePackage is the bounded text bundle submitted to the
// generative backend, with the evidence chunks that made it in.
type evidencePackage struct {
	text         string
	evidenceUsed []models.ScoredChunk
}

// buildEvidencePackage assembles retrieved text under the configured
// character budget, split across the three sources in proportion to
// how much each retrieved, higher-scored chunks first.
func (s *Service) buildEvidencePackage(frameworkChunks, assessmentChunks, evidenceChunks []models.ScoredChunk) evidencePackage {
	budget := s.config.EvidenceBudgetChars
	total := len(frameworkChunks) + len(assessmentChunks) + len(evidenceChunks)
	if total == 0 {
		return evidencePackage{}
	}

	share := func(chunks []models.ScoredChunk) int {
		return budget * len(chunks) / total
	}

	var b strings.Builder
	pkg := evidencePackage{}

	appendSource := func(label string, chunks []models.ScoredChunk, limit int, trackEvidence bool) {
		if len(chunks) == 0 || limit <= 0 {
			return
		}
		b.WriteString(fmt.Sprintf("## %s\n", label))
		used := 0
		for _, chunk := range chunks {
			line := fmt.Sprintf("[%s p.%d] %s\n", chunk.DocID, chunk.Page, chunk.Text)
			if used+len(line) > limit {
				remaining := limit - used
				if remaining <= 0 {
					break
				}
				line = truncate(line, remaining) + "\n"
			}
			b.WriteString(line)
			used += len(line)
			if trackEvidence {
				pkg.evidenceUsed = append(pkg.evidenceUsed, chunk)
			}
			if used >= limit {
				break
			}
		}
	}

	appendSource("Framework guidance", frameworkChunks, share(frameworkChunks), false)
	appendSource("Firm self-assessment", assessmentChunks, share(assessmentChunks), false)
	appendSource("Supporting evidence", evidenceChunks, share(evidenceChunks), true)

	pkg.text = b.String()
	return pkg
}

// generativeVerdict is the structured response the backend must return.
type generativeVerdict struct {
	Assessment string   `json:"assessment" validate:"required,oneof=met partially_met not_met insufficient_evidence"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Claim      string   `json:"claim" validate:"required"`
	Rationale  string   `json:"rationale" validate:"required"`
	CitedDocs  []string `json:"cited_docs"`
}

func (s *Service) evaluateGenerative(ctx context.Context, control models.Control, pkg evidencePackage) (models.Finding, error) {
	system := "You are a regulatory compliance assessor. Judge one control against the retrieved material. " +
		"Return ONLY valid JSON with keys: assessment (one of met, partially_met, not_met, insufficient_evidence), " +
		"confidence (0..1), claim (string), rationale (string), cited_docs (array of doc ids actually relied on)."
	user := fmt.Sprintf("Control %s: %s\n\nRequirement: %s\nSearch intent: %s\n\nRetrieved material:\n%s",
		control.ControlID, control.Name, control.Description, control.QueryText, pkg.text)

	response, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return models.Finding{}, err
	}

	var parsed generativeVerdict
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return models.Finding{}, fmt.Errorf("malformed verdict response: %w", err)
	}
	if err := validator.New().Struct(&parsed); err != nil {
		return models.Finding{}, fmt.Errorf("invalid verdict response: %w", err)
	}
	verdict, err := models.ParseVerdict(parsed.Assessment)
	if err != nil {
		return models.Finding{}, err
	}

	return models.Finding{
		ID:            common.NewFindingID(),
		ControlID:     control.ControlID,
		Assessment:    verdict,
		Confidence:    parsed.Confidence,
		Claim:         parsed.Claim,
		Rationale:     parsed.Rationale,
		FrameworkRefs: control.FrameworkRefs,
		EvidenceLinks: evidenceLinks(pkg.evidenceUsed, parsed.CitedDocs),
	}, nil
}

// evaluateDeterministic decides the verdict from evidence presence and
// retrieval scores alone.
func (s *Service) evaluateDeterministic(control models.Control, evidenceChunks []models.ScoredChunk) models.Finding {
	finding := models.Finding{
		ID:            common.NewFindingID(),
		ControlID:     control.ControlID,
		Claim:         control.QueryText,
		FrameworkRefs: control.FrameworkRefs,
	}

	if len(evidenceChunks) == 0 {
		finding.Assessment = models.VerdictInsufficientEvidence
		finding.Confidence = 0.05
		finding.Rationale = fmt.Sprintf("No evidence retrieved for control %s.", control.ControlID)
		finding.EvidenceLinks = []models.EvidenceLink{}
		return finding
	}

	meanScore := meanTopScore(evidenceChunks, 3)
	finding.EvidenceLinks = evidenceLinks(evidenceChunks, nil)
	finding.Rationale = templatedRationale(control, evidenceChunks)

	switch {
	case meanScore >= s.config.MetThreshold:
		finding.Assessment = models.VerdictMet
		finding.Confidence = meanScore
	case meanScore >= s.config.PartialThreshold:
		finding.Assessment = models.VerdictPartiallyMet
		finding.Confidence = meanScore * 0.8
	default:
		// Retrieval scored too low to support any claim about the
		// control; what came back does not count as citable evidence.
		finding.Assessment = models.VerdictInsufficientEvidence
		finding.Confidence = 0.05
		finding.Rationale = fmt.Sprintf("Evidence retrieved for control %s scored below the relevance floor.", control.ControlID)
		finding.EvidenceLinks = []models.EvidenceLink{}
	}
	return finding
}

// evidenceLinks derives citation links strictly from retrieved
// evidence chunks. When citedDocs is non-empty, only chunks whose doc
// id the backend actually cited are linked; ids not present in the
// retrieved set are dropped.
func evidenceLinks(evidenceChunks []models.ScoredChunk, citedDocs []string) []models.EvidenceLink {
	cited := make(map[string]bool, len(citedDocs))
	for _, id := range citedDocs {
		cited[id] = true
	}

	links := make([]models.EvidenceLink, 0, len(evidenceChunks))
	seen := make(map[string]bool)
	for _, chunk := range evidenceChunks {
		if len(citedDocs) > 0 && !cited[chunk.DocID] {
			continue
		}
		key := fmt.Sprintf("%s#%d", chunk.DocID, chunk.Page)
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, models.EvidenceLink{
			DocID:  chunk.DocID,
			Page:   chunk.Page,
			Source: chunk.SourceCollection,
		})
	}
	return links
}

func meanTopScore(chunks []models.ScoredChunk, n int) float64 {
	if len(chunks) < n {
		n = len(chunks)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, chunk := range chunks[:n] {
		sum += chunk.ScoreValue()
	}
	return sum / float64(n)
}

const rationalePreviewLen = 160

func templatedRationale(control models.Control, evidenceChunks []models.ScoredChunk) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Evidence retrieved for control %s:", control.ControlID))
	limit := 3
	if len(evidenceChunks) < limit {
		limit = len(evidenceChunks)
	}
	for _, chunk := range evidenceChunks[:limit] {
		preview := truncate(strings.ReplaceAll(chunk.Text, "\n", " "), rationalePreviewLen)
		b.WriteString(fmt.Sprintf(" [%s p.%d] %s;", chunk.DocID, chunk.Page, strings.TrimSpace(preview)))
	}
	return strings.TrimSuffix(b.String(), ";")
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// extractJSON trims non-JSON wrapping (markdown fences, prose) around
// the first top-level JSON object in a backend response.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return response
	}
	return response[start : end+1]
}
