package models

import "fmt"

// Verdict is the closed set of assessments a control evaluation can produce.
type Verdict string

const (
	VerdictMet                  Verdict = "met"
	VerdictPartiallyMet         Verdict = "partially_met"
	VerdictNotMet               Verdict = "not_met"
	VerdictInsufficientEvidence Verdict = "insufficient_evidence"
)

// ParseVerdict validates a verdict string from an external source
// (generative backend output, persisted records).
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictMet, VerdictPartiallyMet, VerdictNotMet, VerdictInsufficientEvidence:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("unknown verdict: %q", s)
	}
}

// EvidenceLink cites one retrieved evidence chunk that supported a finding.
// Links only ever reference chunks actually retrieved for the control.
type EvidenceLink struct {
	DocID  string `json:"doc_id"`
	Page   int    `json:"page"`
	Source string `json:"source"`
}

// Finding is the structured verdict produced for one control. One per
// control per run, immutable once produced, owned by the run.
type Finding struct {
	ID            string         `json:"id"`
	ControlID     string         `json:"control_id"`
	Assessment    Verdict        `json:"assessment"`
	Confidence    float64        `json:"confidence"`
	Claim         string         `json:"claim"`
	Rationale     string         `json:"rationale"`
	FrameworkRefs []string       `json:"framework_refs"`
	EvidenceLinks []EvidenceLink `json:"evidence_links"`
}
