// Package signal extracts machine-readable control signals from model
// narration. The engine is prompted to append a fenced JSON block after
// the spoken text; this package splits the two so the caller never hears
// the JSON and the state machine never speaks.
package signal

import (
	"encoding/json"
	"regexp"
	"strings"
)

// IntentUnknown is reported when narration carries no parseable signal.
const IntentUnknown = "unknown"

// Signal is the structured payload the model attaches to a reply. On
// the wire it is a flat JSON object: "intent" plus the slot values as
// top-level siblings, e.g. {"intent": "search", "bedrooms": 2}.
type Signal struct {
	// Intent drives the next state transition.
	Intent string

	// Fields carries extracted slot values (bedrooms, budget, dates).
	// Empty when the block is missing or malformed.
	Fields map[string]any
}

// fencedBlock matches a ```json (or bare ```) fence holding one object.
// Non-greedy so multiple blocks each match separately.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")

// Extract parses the signal out of narration. Precedence:
//  1. The last well-formed fenced JSON block wins.
//  2. Failing that, a line that is itself a JSON object.
//  3. Failing both, intent "unknown" with no fields.
//
// Extract is pure: the same narration always yields the same signal.
func Extract(narration string) Signal {
	sig := Signal{Intent: IntentUnknown, Fields: map[string]any{}}

	matches := fencedBlock.FindAllStringSubmatch(narration, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if s, ok := parsePayload(matches[i][1]); ok {
			return s
		}
	}

	// Some models drop the fence and emit the object on its own line.
	for _, line := range strings.Split(narration, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		if s, ok := parsePayload(line); ok {
			return s
		}
	}

	return sig
}

// parsePayload decodes one candidate JSON object into a Signal. Objects
// without a string intent are not signals.
func parsePayload(raw string) (Signal, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Signal{}, false
	}

	intent, ok := payload["intent"].(string)
	if !ok || intent == "" {
		return Signal{}, false
	}

	fields := map[string]any{}
	for k, v := range payload {
		if k == "intent" || k == "fields" {
			continue
		}
		fields[k] = v
	}
	// Some models wrap the slot values in a "fields" object despite the
	// flat prompt format; flatten it so the step mapping still sees them.
	if nested, ok := payload["fields"].(map[string]any); ok {
		for k, v := range nested {
			fields[k] = v
		}
	}
	return Signal{Intent: intent, Fields: fields}, true
}

// Strip removes every fenced block and bare signal line from narration,
// leaving only the text meant to be spoken. Stripping already-stripped
// narration is a no-op.
func Strip(narration string) string {
	out := fencedBlock.ReplaceAllString(narration, "")

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			if _, ok := parsePayload(trimmed); ok {
				continue
			}
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
