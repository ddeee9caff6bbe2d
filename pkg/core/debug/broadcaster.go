// Package debug streams session internals (transitions, engine calls,
// tool executions) to attached observers without ever blocking the call
// path.
package debug

import (
	"sync"
	"time"
)

// Event types emitted by the session driver.
const (
	EventTransition    = "transition"
	EventSTT           = "stt"
	EventLLMCall       = "llm_call"
	EventLLMResponse   = "llm_response"
	EventToolExec      = "tool_exec"
	EventFieldProgress = "field_progress"
	EventStepComplete  = "step_complete"
	EventPause         = "pause"
	EventResume        = "resume"
	EventBargeIn       = "barge_in"
	EventPlayback      = "playback"
)

// Event is one trace record.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth. A stalled
// observer loses its oldest events rather than stalling the session.
const subscriberBuffer = 200

// maxEventLog caps the append-only history kept for late inspection.
const maxEventLog = 1000

// Broadcaster fans session events out to live subscribers and keeps a
// bounded in-memory log. One Broadcaster serves one session.
type Broadcaster struct {
	sessionID string

	mu   sync.Mutex
	subs map[chan Event]struct{}
	log  []Event
}

// NewBroadcaster creates a broadcaster for a session.
func NewBroadcaster(sessionID string) *Broadcaster {
	return &Broadcaster{
		sessionID: sessionID,
		subs:      map[chan Event]struct{}{},
	}
}

// Emit records an event and delivers it to every subscriber. Never
// blocks: a subscriber whose buffer is full loses its oldest event.
func (b *Broadcaster) Emit(eventType, stepID string, data map[string]any) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: b.sessionID,
		StepID:    stepID,
		Data:      data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.log = append(b.log, ev)
	if len(b.log) > maxEventLog {
		b.log = b.log[len(b.log)-maxEventLog:]
	}

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest to make room, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers an observer. The returned cancel func must be
// called when done; the channel is closed by it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	_, ch, cancel := b.Attach()
	return ch, cancel
}

// Attach registers an observer and returns the recorded backlog,
// captured atomically with the subscription: every event lands in
// exactly one of the two, so replaying the backlog before draining the
// channel never duplicates or drops an event.
func (b *Broadcaster) Attach() ([]Event, <-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	backlog := make([]Event, len(b.log))
	copy(backlog, b.log)
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return backlog, ch, cancel
}

// EventLog returns a copy of the recorded history.
func (b *Broadcaster) EventLog() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// SubscriberCount reports how many observers are attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
