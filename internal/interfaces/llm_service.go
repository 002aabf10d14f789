package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService defines the generative backend consumed by the findings
// evaluator and the narrative synthesizer. The service is optional:
// callers must treat a nil service as "no generative backend" and use
// their deterministic pathways instead.
//
// Implementations must bound every call with a timeout; a backend
// call may fail but must never block indefinitely.
type LLMService interface {
	// Chat generates a completion for the conversation history.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream generates a completion incrementally, invoking emit
	// for each text segment in order. The concatenation of emitted
	// segments equals the batch Chat result for the same input.
	ChatStream(ctx context.Context, messages []Message, emit func(segment string) error) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
