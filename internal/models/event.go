package models

// EventKind discriminates run stream events.
type EventKind string

const (
	EventStart        EventKind = "start"
	EventSectionStart EventKind = "section_start"
	EventSectionText  EventKind = "section_text"
	EventEnd          EventKind = "end"
	EventError        EventKind = "error"
)

// RunEvent is one element of the ordered event sequence a streaming
// run emits. Encoded as one JSON object per line on the wire.
type RunEvent struct {
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"run_id"`
	Framework   string    `json:"framework,omitempty"`
	Firm        string    `json:"firm,omitempty"`
	SectionID   string    `json:"section_id,omitempty"`
	SectionName string    `json:"section_name,omitempty"`
	Text        string    `json:"text,omitempty"` // Incremental narrative text for section_text
	OK          *bool     `json:"ok,omitempty"`   // Overall success flag, set on end
	Error       string    `json:"error,omitempty"`
}

// TerminalEvent reports whether no further events may follow.
func (e RunEvent) TerminalEvent() bool {
	return e.Kind == EventEnd || e.Kind == EventError
}
