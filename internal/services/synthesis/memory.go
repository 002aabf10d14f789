package synthesis

import (
	"fmt"
	"strings"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/models"
)

// RollingMemory carries narrative context across the sections of one
// run so later sections can build on earlier ones instead of repeating
// them. It holds a bounded summary of what has been written, a bounded
// list of key points, and the set of evidence already cited.
//
// Memory is owned by a single run and updated between sections; it is
// not safe for concurrent use.
type RollingMemory struct {
	summaryChars int
	pointsLimit  int

	summary      []string
	points       []string
	usedEvidence map[string]bool
}

func NewRollingMemory(config *common.SynthesisConfig) *RollingMemory {
	return &RollingMemory{
		summaryChars: config.MemorySummaryChars,
		pointsLimit:  config.MemoryPointsLimit,
		usedEvidence: make(map[string]bool),
	}
}

// Observe records a completed section: its opening as summary, a
// verdict tally as a key point, and every evidence link its findings
// cited. Oldest summary entries drop first when the budget fills.
func (m *RollingMemory) Observe(section models.Section, narrative string, findings []models.Finding) {
	if lead := leadSentence(narrative); lead != "" {
		m.summary = append(m.summary, fmt.Sprintf("%s: %s", section.Name, lead))
		for m.summaryLen() > m.summaryChars && len(m.summary) > 1 {
			m.summary = m.summary[1:]
		}
	}

	if len(findings) > 0 {
		m.points = append(m.points, fmt.Sprintf("%s covered %d controls (%s)", section.Name, len(findings), verdictTally(findings)))
		if m.pointsLimit > 0 && len(m.points) > m.pointsLimit {
			m.points = m.points[len(m.points)-m.pointsLimit:]
		}
	}

	for _, f := range findings {
		for _, link := range f.EvidenceLinks {
			m.usedEvidence[evidenceKey(link)] = true
		}
	}
}

// EvidenceCited reports whether a link was already cited by an earlier
// section of this run.
func (m *RollingMemory) EvidenceCited(link models.EvidenceLink) bool {
	return m.usedEvidence[evidenceKey(link)]
}

// Context renders the memory as a prompt block, or "" when the run has
// no prior sections.
func (m *RollingMemory) Context() string {
	if len(m.summary) == 0 && len(m.points) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier sections of this report:\n")
	for _, s := range m.summary {
		b.WriteString("- " + s + "\n")
	}
	if len(m.points) > 0 {
		b.WriteString("Key points already made:\n")
		for _, p := range m.points {
			b.WriteString("- " + p + "\n")
		}
	}
	return b.String()
}

func (m *RollingMemory) summaryLen() int {
	n := 0
	for _, s := range m.summary {
		n += len(s)
	}
	return n
}

func evidenceKey(link models.EvidenceLink) string {
	return fmt.Sprintf("%s#%d", link.DocID, link.Page)
}

func verdictTally(findings []models.Finding) string {
	counts := map[models.Verdict]int{}
	for _, f := range findings {
		counts[f.Assessment]++
	}
	parts := make([]string, 0, 4)
	for _, v := range []models.Verdict{models.VerdictMet, models.VerdictPartiallyMet, models.VerdictNotMet, models.VerdictInsufficientEvidence} {
		if counts[v] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[v], v))
		}
	}
	return strings.Join(parts, ", ")
}

// leadSentence returns the first sentence of a narrative, bounded so a
// single section cannot flood the memory.
func leadSentence(narrative string) string {
	text := strings.TrimSpace(narrative)
	if text == "" {
		return ""
	}
	if idx := strings.IndexAny(text, ".\n"); idx > 0 {
		text = text[:idx+1]
	}
	const maxLead = 300
	if len(text) > maxLead {
		text = text[:maxLead]
	}
	return strings.TrimSpace(text)
}
