package models

import "time"

// RunStatus tracks a report run through its state machine.
// pending -> evaluating -> synthesizing -> completed, with failed
// reachable from any non-terminal state.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunEvaluating   RunStatus = "evaluating"
	RunSynthesizing RunStatus = "synthesizing"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
)

// Terminal reports whether the status ends the state machine.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunRequest describes one report run to execute.
type RunRequest struct {
	Framework         string            `json:"framework"`
	Firm              string            `json:"firm"`
	Scope             string            `json:"scope,omitempty"` // Free-text scope folded into queries and prompts
	SelectedSections  []string          `json:"selected_sections"`
	PromptOverrides   map[string]string `json:"prompt_overrides,omitempty"` // section id -> prompt
	OverarchingPrompt string            `json:"overarching_prompt,omitempty"`
	Strategy          RetrievalStrategy `json:"retrieval_strategy,omitempty"`
	Model             string            `json:"model,omitempty"` // Generative model override, empty = configured default
	IncludeRagDebug   bool              `json:"include_rag_debug,omitempty"`
}

// Report is the persisted artifact of one run: all findings over the
// framework taxonomy plus narrative text for each selected section.
// Immutable after completion; the sole unit retrievable by later
// lookups or PDF rendering.
type Report struct {
	RunID            string                   `json:"run_id" badgerhold:"key"`
	Framework        string                   `json:"framework"`
	Firm             string                   `json:"firm"`
	Scope            string                   `json:"scope,omitempty"`
	SelectedSections []string                 `json:"selected_sections"`
	Findings         []Finding                `json:"findings"`
	Sections         map[string]string        `json:"sections"` // section id -> narrative text or error placeholder
	RagDebug         map[string][]RagDebugRow `json:"rag_debug,omitempty"`
	Status           RunStatus                `json:"status"`
	CreatedAt        time.Time                `json:"created_at"`
	CompletedAt      time.Time                `json:"completed_at"`
}

// FindingByControl returns the finding for a control id, if present.
func (r *Report) FindingByControl(controlID string) (Finding, bool) {
	for _, f := range r.Findings {
		if f.ControlID == controlID {
			return f, true
		}
	}
	return Finding{}, false
}
