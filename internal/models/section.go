package models

// Section is a named, ordered narrative unit of the final report.
// Sections are admin-defined and consumed read-only by synthesis.
type Section struct {
	ID       string `yaml:"id" json:"id" validate:"required"`
	Name     string `yaml:"name" json:"name" validate:"required"`
	Position int    `yaml:"position" json:"position"`
	Prompt   string `yaml:"prompt" json:"prompt"` // Default directive, may be empty; overridable per run

	// ControlScope lists control ids or framework refs this section
	// draws findings from. Empty scope means all findings are in scope.
	ControlScope []string `yaml:"control_scope" json:"control_scope,omitempty"`
}

// InScope reports whether a finding belongs to this section: its
// control id or any framework ref intersects the declared scope.
func (s Section) InScope(f Finding) bool {
	if len(s.ControlScope) == 0 {
		return true
	}
	for _, scope := range s.ControlScope {
		if scope == f.ControlID {
			return true
		}
		for _, ref := range f.FrameworkRefs {
			if scope == ref {
				return true
			}
		}
	}
	return false
}
