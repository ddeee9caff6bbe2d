package session

import (
	"sort"
	"time"

	"github.com/loftcall/loftcall/pkg/core/caller"
	"github.com/loftcall/loftcall/pkg/core/debug"
	"github.com/loftcall/loftcall/pkg/core/engine"
)

// Summary is the listing view of a session.
type Summary struct {
	SessionID     string       `json:"session_id"`
	CurrentStepID string       `json:"current_step_id"`
	Done          bool         `json:"is_done"`
	Paused        bool         `json:"is_paused"`
	StartedAt     time.Time    `json:"started_at"`
	Caller        caller.State `json:"caller_state"`
	StepDataKeys  []string     `json:"step_data_keys"`
}

// Detail adds the inspection view: step data, recent transcript, and the
// debug event log when a broadcaster is attached.
type Detail struct {
	Summary
	StepData       map[string]string `json:"step_data"`
	MessageCount   int               `json:"message_count"`
	RecentMessages []engine.Message  `json:"recent_messages"`
	EventLog       []debug.Event     `json:"event_log,omitempty"`
}

// Summary serializes the session for listings.
func (d *Driver) Summary() Summary {
	d.mu.Lock()
	keys := make([]string, 0, len(d.stepData))
	for k := range d.stepData {
		keys = append(keys, k)
	}
	s := Summary{
		SessionID:    d.sessionID,
		Done:         d.done,
		Paused:       d.pauseCh != nil,
		StartedAt:    d.startedAt,
		StepDataKeys: keys,
	}
	if d.current != nil {
		s.CurrentStepID = d.current.ID()
	}
	d.mu.Unlock()

	sort.Strings(s.StepDataKeys)
	s.Caller = d.state.Snapshot()
	return s
}

// Detail serializes the session for single-session inspection. Large
// step data values are truncated.
func (d *Driver) Detail() Detail {
	det := Detail{Summary: d.Summary()}

	d.mu.Lock()
	det.StepData = make(map[string]string, len(d.stepData))
	for k, v := range d.stepData {
		det.StepData[k] = truncate(v, stepDataTruncate)
	}
	det.MessageCount = len(d.history)
	recent := d.history
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	det.RecentMessages = append([]engine.Message(nil), recent...)
	b := d.broadcaster
	d.mu.Unlock()

	if b != nil {
		det.EventLog = b.EventLog()
	}
	return det
}
