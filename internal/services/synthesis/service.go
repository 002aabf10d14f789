package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// Options carries the per-run directives that shape one section's
// narrative.
type Options struct {
	// OverarchingPrompt applies to every section of the run.
	OverarchingPrompt string

	// PromptOverride replaces the section's stored prompt when set.
	PromptOverride string

	// Memory is the run's rolling narrative memory. Optional.
	Memory *RollingMemory
}

// Service turns a section's findings into narrative prose. With a
// generative backend it prompts for the section text; without one it
// renders a deterministic template. Streaming and batch synthesis
// produce identical text for identical inputs on the deterministic
// pathway, and the stream concatenation always equals the full section
// text.
type Service struct {
	llm    interfaces.LLMService // nil = deterministic only
	config *common.SynthesisConfig
	logger arbor.ILogger
}

// NewService creates a narrative synthesizer. llm may be nil.
func NewService(llm interfaces.LLMService, config *common.SynthesisConfig, logger arbor.ILogger) *Service {
	return &Service{
		llm:    llm,
		config: config,
		logger: logger,
	}
}

// Synthesize produces the complete narrative for one section.
func (s *Service) Synthesize(ctx context.Context, section models.Section, findings []models.Finding, opts Options) (string, error) {
	findings = boundFindings(findings, s.config.MaxFindingsPerSection)

	if s.llm == nil {
		return renderTemplate(section, findings), nil
	}

	messages := s.buildMessages(section, findings, opts)
	text, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("section %s synthesis: %w", section.ID, err)
	}
	return text, nil
}

// SynthesizeStream produces the section narrative incrementally. emit
// receives ordered text segments whose concatenation is the section
// text; an emit error aborts the stream.
func (s *Service) SynthesizeStream(ctx context.Context, section models.Section, findings []models.Finding, opts Options, emit func(segment string) error) error {
	findings = boundFindings(findings, s.config.MaxFindingsPerSection)

	if s.llm == nil {
		return emit(renderTemplate(section, findings))
	}

	messages := s.buildMessages(section, findings, opts)
	if err := s.llm.ChatStream(ctx, messages, emit); err != nil {
		return fmt.Errorf("section %s synthesis: %w", section.ID, err)
	}
	return nil
}

func (s *Service) buildMessages(section models.Section, findings []models.Finding, opts Options) []interfaces.Message {
	system := "You are writing one section of a regulatory compliance report. " +
		"Write professional narrative prose grounded strictly in the findings provided. " +
		"Cite only the controls and evidence given; never invent controls, documents or outcomes."
	if opts.OverarchingPrompt != "" {
		system += "\n\nReport-wide directive: " + opts.OverarchingPrompt
	}

	directive := section.Prompt
	if opts.PromptOverride != "" {
		directive = opts.PromptOverride
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Section: %s\n", section.Name))
	if directive != "" {
		b.WriteString(fmt.Sprintf("Directive: %s\n", directive))
	}
	if opts.Memory != nil {
		if prior := opts.Memory.Context(); prior != "" {
			b.WriteString("\n" + prior)
		}
	}
	b.WriteString("\nFindings:\n")
	for _, f := range findings {
		b.WriteString(renderFinding(f, opts.Memory))
	}

	return []interfaces.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func renderFinding(f models.Finding, memory *RollingMemory) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("- %s [%s, confidence %.2f]: %s\n", f.ControlID, f.Assessment, f.Confidence, f.Claim))
	if f.Rationale != "" {
		b.WriteString(fmt.Sprintf("  Rationale: %s\n", f.Rationale))
	}
	for _, link := range f.EvidenceLinks {
		cited := ""
		if memory != nil && memory.EvidenceCited(link) {
			cited = " (cited earlier)"
		}
		b.WriteString(fmt.Sprintf("  Evidence: %s p.%d%s\n", link.DocID, link.Page, cited))
	}
	return b.String()
}

// renderTemplate is the deterministic pathway: a fixed markdown layout
// over the findings, identical across batch and stream.
func renderTemplate(section models.Section, findings []models.Finding) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s covers %d control assessment(s).\n", section.Name, len(findings)))

	if len(findings) == 0 {
		b.WriteString("\nNo findings are in scope for this section.\n")
		return b.String()
	}

	grouped := map[models.Verdict][]models.Finding{}
	for _, f := range findings {
		grouped[f.Assessment] = append(grouped[f.Assessment], f)
	}

	headings := []struct {
		verdict models.Verdict
		label   string
	}{
		{models.VerdictMet, "Controls assessed as met"},
		{models.VerdictPartiallyMet, "Controls assessed as partially met"},
		{models.VerdictNotMet, "Controls assessed as not met"},
		{models.VerdictInsufficientEvidence, "Controls with insufficient evidence"},
	}

	for _, h := range headings {
		group := grouped[h.verdict]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ControlID < group[j].ControlID })
		b.WriteString(fmt.Sprintf("\n## %s\n\n", h.label))
		for _, f := range group {
			b.WriteString(fmt.Sprintf("**%s** (confidence %.2f): %s", f.ControlID, f.Confidence, f.Claim))
			if len(f.EvidenceLinks) > 0 {
				refs := make([]string, 0, len(f.EvidenceLinks))
				for _, link := range f.EvidenceLinks {
					refs = append(refs, fmt.Sprintf("%s p.%d", link.DocID, link.Page))
				}
				b.WriteString(fmt.Sprintf(" Evidence: %s.", strings.Join(refs, "; ")))
			}
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// boundFindings keeps the highest-confidence findings when a section
// has more than the prompt can carry, preserving input order.
func boundFindings(findings []models.Finding, limit int) []models.Finding {
	if limit <= 0 || len(findings) <= limit {
		return findings
	}

	type ranked struct {
		finding models.Finding
		order   int
	}
	rankedAll := make([]ranked, len(findings))
	for i, f := range findings {
		rankedAll[i] = ranked{finding: f, order: i}
	}
	sort.SliceStable(rankedAll, func(i, j int) bool {
		return rankedAll[i].finding.Confidence > rankedAll[j].finding.Confidence
	})
	kept := rankedAll[:limit]
	sort.Slice(kept, func(i, j int) bool { return kept[i].order < kept[j].order })

	out := make([]models.Finding, limit)
	for i, r := range kept {
		out[i] = r.finding
	}
	return out
}
