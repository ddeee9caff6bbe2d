// Package workflow defines branching conversation workflows: a set of
// named steps joined by intent-driven transitions, loaded from JSONL
// definition files.
//
// A raw definition (StateDef, WorkflowDef) mirrors the on-disk schema.
// Compile turns it into a Workflow of typed Steps the session driver
// executes.
package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loftcall/loftcall/pkg/core"
)

// Wildcard matches any intent a step has no explicit transition for.
const Wildcard = "*"

// targetExit marks a transition that ends the session instead of
// entering another step.
const targetExit = "exit"

// StateDef is one step in the on-disk workflow schema.
type StateDef struct {
	ID string `json:"id"`

	// OnEnter is the narration prompt spoken when the step is entered.
	OnEnter string `json:"on_enter,omitempty"`

	// StepType is "llm" (conversational) or "tool" (auto-executed).
	StepType string `json:"step_type,omitempty"`

	// SystemPrompt is the engine system prompt for llm steps. It may
	// contain {{placeholder}} patterns resolved against session data.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ToolNames lists the tools a tool step runs, in order.
	ToolNames []string `json:"tool_names,omitempty"`

	// Narration is spoken before a tool step executes.
	Narration string `json:"narration,omitempty"`

	// Transitions maps intent -> target. Targets are "stateId",
	// "stateId:spoken override", "exit", or "exit:goodbye message".
	Transitions map[string]string `json:"transitions,omitempty"`

	// MaxTurns caps how many utterances a step may absorb without
	// completing; MaxTurnsTarget is where the session goes when the cap
	// is hit.
	MaxTurns       int    `json:"max_turns,omitempty"`
	MaxTurnsTarget string `json:"max_turns_target,omitempty"`

	// StateFields maps signal field keys to caller-state destinations.
	StateFields map[string]string `json:"state_fields,omitempty"`

	// ToolArgsMap maps tool parameter names to data paths such as
	// "state.caller_name", "step_data.selected_date", or a literal.
	ToolArgsMap map[string]string `json:"tool_args_map,omitempty"`

	// AutoIntent routes a tool step after successful execution.
	// Defaults to "success"; failures route via "error".
	AutoIntent string `json:"auto_intent,omitempty"`
}

// WorkflowDef is a complete on-disk workflow.
type WorkflowDef struct {
	ID            string              `json:"id"`
	TriggerIntent string              `json:"trigger_intent,omitempty"`
	InitialState  string              `json:"initial_state"`
	ExitPhrases   []string            `json:"exit_phrases,omitempty"`
	ExitMessage   string              `json:"exit_message,omitempty"`
	States        map[string]StateDef `json:"states"`
}

// Target is a parsed transition destination.
type Target struct {
	// StepID is empty when Exit is true.
	StepID string

	// Message overrides or supplements the spoken response. For exit
	// targets without an explicit message, the workflow's ExitMessage.
	Message string

	// Exit ends the session.
	Exit bool
}

// Step is one compiled workflow step. The two implementations are
// LLMStep and ToolStep; the driver switches on the concrete type.
type Step interface {
	ID() string
	Transitions() map[string]string
}

// LLMStep is a conversational step: caller utterances are fed to the
// engine under the step's system prompt until a signal completes it.
type LLMStep struct {
	def StateDef
}

func (s *LLMStep) ID() string                     { return s.def.ID }
func (s *LLMStep) Transitions() map[string]string { return s.def.Transitions }
func (s *LLMStep) OnEnter() string                { return s.def.OnEnter }
func (s *LLMStep) SystemPrompt() string           { return s.def.SystemPrompt }
func (s *LLMStep) StateFields() map[string]string { return s.def.StateFields }

// TurnCap returns the utterance ceiling and overflow target, or false
// when the step is uncapped.
func (s *LLMStep) TurnCap() (int, string, bool) {
	if s.def.MaxTurns <= 0 || s.def.MaxTurnsTarget == "" {
		return 0, "", false
	}
	return s.def.MaxTurns, s.def.MaxTurnsTarget, true
}

// ToolStep executes its tools as soon as it is entered and routes on via
// AutoIntent, so consecutive tool steps chain without caller input.
type ToolStep struct {
	def StateDef
}

func (s *ToolStep) ID() string                     { return s.def.ID }
func (s *ToolStep) Transitions() map[string]string { return s.def.Transitions }
func (s *ToolStep) ToolNames() []string            { return s.def.ToolNames }
func (s *ToolStep) Narration() string              { return s.def.Narration }
func (s *ToolStep) ToolArgsMap() map[string]string { return s.def.ToolArgsMap }

// AutoIntent returns the routing intent for successful execution.
func (s *ToolStep) AutoIntent() string {
	if s.def.AutoIntent == "" {
		return "success"
	}
	return s.def.AutoIntent
}

// Workflow is a compiled, validated workflow ready to drive sessions.
type Workflow struct {
	def   WorkflowDef
	steps map[string]Step
}

// Compile turns a definition into a Workflow, validating it first.
func Compile(def WorkflowDef) (*Workflow, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	steps := make(map[string]Step, len(def.States))
	for id, sd := range def.States {
		if sd.ID == "" {
			sd.ID = id
		}
		if sd.StepType == "tool" {
			steps[id] = &ToolStep{def: sd}
		} else {
			steps[id] = &LLMStep{def: sd}
		}
	}
	return &Workflow{def: def, steps: steps}, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.def.ID }

// ExitMessage returns the default goodbye line.
func (w *Workflow) ExitMessage() string { return w.def.ExitMessage }

// ExitPhrases returns caller phrases that end the session directly.
func (w *Workflow) ExitPhrases() []string { return w.def.ExitPhrases }

// Initial returns the entry step.
func (w *Workflow) Initial() Step { return w.steps[w.def.InitialState] }

// Step looks up a step by id.
func (w *Workflow) Step(id string) (Step, bool) {
	s, ok := w.steps[id]
	return s, ok
}

// ParseTarget parses a raw transition target.
func (w *Workflow) ParseTarget(raw string) Target {
	if raw == "" {
		return Target{}
	}
	if raw == targetExit || strings.HasPrefix(raw, targetExit+":") {
		msg := w.def.ExitMessage
		if rest, ok := strings.CutPrefix(raw, targetExit+":"); ok {
			msg = rest
		}
		return Target{Exit: true, Message: msg}
	}
	if id, msg, ok := strings.Cut(raw, ":"); ok {
		return Target{StepID: id, Message: msg}
	}
	return Target{StepID: raw}
}

// Resolve finds the transition for an intent, falling back to the
// wildcard. ok is false when the step has no matching transition and the
// session should stay where it is.
func (w *Workflow) Resolve(step Step, intent string) (Target, bool) {
	trans := step.Transitions()
	raw, found := trans[intent]
	if !found || raw == "" {
		raw, found = trans[Wildcard]
	}
	if !found || raw == "" {
		return Target{}, false
	}
	return w.ParseTarget(raw), true
}

// Validate checks a definition for structural problems: a missing or
// unknown initial state, transitions to undefined steps, and dead ends
// (steps from which no sequence of transitions reaches an exit).
func Validate(def WorkflowDef) error {
	if def.InitialState == "" {
		return core.NewWorkflowError(fmt.Sprintf("workflow %q has no initial_state", def.ID))
	}
	if _, ok := def.States[def.InitialState]; !ok {
		return core.NewWorkflowError(fmt.Sprintf("workflow %q initial_state %q is not defined", def.ID, def.InitialState))
	}

	for id, sd := range def.States {
		for intent, raw := range sd.Transitions {
			target, _, _ := strings.Cut(raw, ":")
			if target == targetExit || target == "" {
				continue
			}
			if _, ok := def.States[target]; !ok {
				return core.NewWorkflowError(fmt.Sprintf(
					"workflow %q step %q transition %q targets undefined step %q", def.ID, id, intent, target))
			}
		}
		if sd.MaxTurnsTarget != "" && sd.MaxTurnsTarget != targetExit {
			mt, _, _ := strings.Cut(sd.MaxTurnsTarget, ":")
			if _, ok := def.States[mt]; !ok && mt != targetExit {
				return core.NewWorkflowError(fmt.Sprintf(
					"workflow %q step %q max_turns_target %q is not defined", def.ID, id, sd.MaxTurnsTarget))
			}
		}
	}

	if dead := deadEnds(def); len(dead) > 0 {
		return core.NewWorkflowError(fmt.Sprintf(
			"workflow %q has dead-end steps (no path to exit): %s", def.ID, strings.Join(dead, ", ")))
	}
	return nil
}

// deadEnds returns the steps that cannot reach an exit transition,
// sorted for stable error messages.
func deadEnds(def WorkflowDef) []string {
	// canExit[id] is true once any outgoing path reaches "exit".
	// Iterate to a fixed point; the graph is small.
	canExit := make(map[string]bool, len(def.States))
	for changed := true; changed; {
		changed = false
		for id, sd := range def.States {
			if canExit[id] {
				continue
			}
			for _, raw := range sd.Transitions {
				target, _, _ := strings.Cut(raw, ":")
				if target == targetExit || canExit[target] {
					canExit[id] = true
					changed = true
					break
				}
			}
			if !canExit[id] && sd.MaxTurnsTarget != "" {
				mt, _, _ := strings.Cut(sd.MaxTurnsTarget, ":")
				if mt == targetExit || canExit[mt] {
					canExit[id] = true
					changed = true
				}
			}
		}
	}

	var dead []string
	for id := range def.States {
		if !canExit[id] {
			dead = append(dead, id)
		}
	}
	sort.Strings(dead)
	return dead
}
