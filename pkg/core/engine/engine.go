// Package engine abstracts the language-model backends that generate
// conversational narration for workflow steps.
package engine

import "context"

// Message roles in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes a tool advertised to the model so its narration
// can reference tool capabilities. Execution happens in the session, not
// inside the provider.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one completion call.
type Request struct {
	// System is the step's rendered system prompt.
	System string

	// History is prior turns, oldest first.
	History []Message

	// UserText is the new caller utterance (or an internal prompt such
	// as a greeting instruction).
	UserText string

	// Tools the current step exposes.
	Tools []ToolSchema
}

// Provider generates a narration reply for a request.
type Provider interface {
	// Name returns the provider identifier ("openai", "gemini").
	Name() string

	// Complete returns the model's full reply, including any trailing
	// signal block.
	Complete(ctx context.Context, req Request) (string, error)
}
