// Package core holds the shared error taxonomy for the voice session stack.
package core

import (
	"errors"
	"fmt"
)

// Error represents a categorized session error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Wrapped   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step: %s)", e.Type, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error { return e.Wrapped }

// ErrorType categorizes errors per the session error model.
type ErrorType string

const (
	// ErrTransport covers channel stalls and disconnects. The session is
	// terminated cleanly; the caller sees end-of-stream.
	ErrTransport ErrorType = "transport_error"
	// ErrRecognition covers STT/TTS failures. The driver substitutes a
	// fallback narration instead of advancing the FSM.
	ErrRecognition ErrorType = "recognition_error"
	// ErrSignalParse covers missing or malformed signal blocks. Non-fatal.
	ErrSignalParse ErrorType = "signal_parse_error"
	// ErrTransition means a step had no applicable transition for an intent.
	// This is a workflow configuration defect, not a runtime input error.
	ErrTransition ErrorType = "transition_error"
	// ErrToolExec covers external tool/service failures, routed to the FSM
	// as a tool-error intent.
	ErrToolExec ErrorType = "tool_exec_error"
	// ErrWorkflow covers invalid workflow definitions caught at load time.
	ErrWorkflow ErrorType = "workflow_error"
	// ErrProvider covers model-layer failures from the engine provider.
	ErrProvider ErrorType = "provider_error"
)

// NewTransportError reports a dead or stalled audio transport.
func NewTransportError(message string, wrapped error) *Error {
	return &Error{Type: ErrTransport, Message: message, Wrapped: wrapped}
}

// NewRecognitionError reports an STT/TTS failure.
func NewRecognitionError(message string, wrapped error) *Error {
	return &Error{Type: ErrRecognition, Message: message, Wrapped: wrapped}
}

// NewTransitionError reports a step with no applicable transition.
func NewTransitionError(stepID, intent string) *Error {
	return &Error{
		Type:    ErrTransition,
		Message: fmt.Sprintf("no transition for intent %q", intent),
		StepID:  stepID,
	}
}

// NewToolExecError reports an external tool failure.
func NewToolExecError(tool string, wrapped error) *Error {
	return &Error{
		Type:    ErrToolExec,
		Message: fmt.Sprintf("tool %s failed: %v", tool, wrapped),
		Tool:    tool,
		Wrapped: wrapped,
	}
}

// NewWorkflowError reports an invalid workflow definition.
func NewWorkflowError(message string) *Error {
	return &Error{Type: ErrWorkflow, Message: message}
}

// NewProviderError reports a model-layer failure.
func NewProviderError(provider string, wrapped error) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: fmt.Sprintf("%s: %v", provider, wrapped),
		Wrapped: wrapped,
	}
}

// IsRecoverable reports whether the session can continue after this error.
// Only transport loss ends the call outright.
func (e *Error) IsRecoverable() bool {
	return e.Type != ErrTransport && e.Type != ErrWorkflow
}

// TypeOf extracts the ErrorType from an error chain, or "" if none.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}
