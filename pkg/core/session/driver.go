// Package session drives one call's conversation: it feeds transcribed
// utterances through the workflow FSM, calls the engine for narration,
// auto-executes tool steps, and tracks what is known about the caller.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/caller"
	"github.com/loftcall/loftcall/pkg/core/debug"
	"github.com/loftcall/loftcall/pkg/core/engine"
	"github.com/loftcall/loftcall/pkg/core/signal"
	"github.com/loftcall/loftcall/pkg/core/tools"
	"github.com/loftcall/loftcall/pkg/core/workflow"
)

// History bounds: when the transcript exceeds maxHistory messages it is
// trimmed to the most recent keepHistory.
const (
	maxHistory  = 30
	keepHistory = 20
)

// fallbackNarration is spoken when the engine fails on a recoverable
// error; the FSM does not advance.
const fallbackNarration = "I'm sorry, I didn't quite catch that. Could you say it again?"

// doneNarration is spoken when an utterance arrives after the session
// has already finished.
const doneNarration = "Thank you for calling. Goodbye!"

// ttsFormatting is appended to every system prompt. Responses are read
// aloud, so numbers must be written as words in the spoken text while
// signal blocks keep numeric values.
const ttsFormatting = "\n\nFORMATTING: Your responses will be read aloud by text-to-speech. " +
	"Write all numbers as spoken words in your conversational text " +
	"(e.g., say \"two thousand five hundred dollars a month\" not \"$2,500/mo\", " +
	"\"three bedrooms\" not \"3 bedrooms\", \"fourteen hundred square feet\" not \"1,400 sq ft\"). " +
	"This only applies to your spoken text; JSON output blocks must still use numeric values." +
	"\n\nCRITICAL: NEVER say \"null\", \"none\", \"not set\", \"no value\", \"N/A\", or " +
	"\"not available\" to the caller. If a piece of information hasn't been gathered yet, " +
	"simply skip it or don't mention it. Only reference information you actually have."

// stepDataTruncate caps step data values in detail serializations.
const stepDataTruncate = 500

var placeholderPattern = regexp.MustCompile(`\{\{([a-z0-9_.]+)\}\}`)

// Legacy placeholder aliases kept so workflow prompts can use short
// names instead of full data paths.
var placeholderAliases = map[string]string{
	"search_results":        "step_data.search_listings",
	"available_slots":       "step_data.check_availability",
	"booking_confirmation":  "step_data.create_booking",
	"selected_address":      "state.selected_listing_address",
	"selected_time_display": "state.selected_time_slot",
	"caller_email":          "state.caller_email",
}

// Config assembles a Driver's collaborators.
type Config struct {
	Workflow *workflow.Workflow
	Provider engine.Provider
	Tools    *tools.Registry
	Logger   *slog.Logger
}

// Driver runs one call's conversation. Methods are safe for the audio
// loop and the admin API to call concurrently, but utterances must
// arrive one at a time (the turn detector guarantees that).
type Driver struct {
	wf       *workflow.Workflow
	provider engine.Provider
	tools    *tools.Registry
	logger   *slog.Logger

	mu          sync.Mutex
	sessionID   string
	startedAt   time.Time
	current     workflow.Step
	state       *caller.State
	stepData    map[string]string
	history     []engine.Message
	turnsInStep int
	pendingMsg  string
	done        bool
	pauseCh     chan struct{}
	broadcaster *debug.Broadcaster
}

// NewDriver creates a driver positioned at the workflow's initial step.
func NewDriver(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		wf:       cfg.Workflow,
		provider: cfg.Provider,
		tools:    cfg.Tools,
		logger:   logger,
		current:  cfg.Workflow.Initial(),
		state:    &caller.State{},
		stepData: map[string]string{},
	}
}

// Start records caller metadata before the first turn.
func (d *Driver) Start(callSID, phoneNumber string) {
	d.state.Set("call_sid", callSID)
	d.state.Set("phone_number", phoneNumber)
	d.logger.Info("session started",
		"step", d.CurrentStepID(),
		"phone", caller.Redact(phoneNumber))
}

// AttachBroadcaster enables debug event streaming.
func (d *Driver) AttachBroadcaster(b *debug.Broadcaster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcaster = b
}

// Broadcaster returns the attached debug broadcaster, or nil.
func (d *Driver) Broadcaster() *debug.Broadcaster {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.broadcaster
}

// setSessionID is called by the registry.
func (d *Driver) setSessionID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = id
	d.startedAt = time.Now().UTC()
}

// SessionID returns the registry-assigned identifier.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Done reports whether the conversation has ended.
func (d *Driver) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// CurrentStepID returns the FSM position.
func (d *Driver) CurrentStepID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return ""
	}
	return d.current.ID()
}

// CallerState returns the live caller record.
func (d *Driver) CallerState() *caller.State { return d.state }

// Pause stops utterance processing. Audio keeps flowing; HandleUtterance
// blocks until Resume.
func (d *Driver) Pause() {
	d.mu.Lock()
	if d.pauseCh == nil {
		d.pauseCh = make(chan struct{})
	}
	d.mu.Unlock()
	d.emit(debug.EventPause, nil)
	d.logger.Info("session paused", "session_id", d.SessionID())
}

// Resume releases a paused session.
func (d *Driver) Resume() {
	d.mu.Lock()
	if d.pauseCh != nil {
		close(d.pauseCh)
		d.pauseCh = nil
	}
	d.mu.Unlock()
	d.emit(debug.EventResume, nil)
	d.logger.Info("session resumed", "session_id", d.SessionID())
}

// Paused reports whether the session is paused.
func (d *Driver) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pauseCh != nil
}

// Greeting generates the opening line for a freshly connected caller.
func (d *Driver) Greeting(ctx context.Context) (string, error) {
	step, ok := d.currentLLMStep()
	if !ok {
		return "Hello! How can I help you?", nil
	}

	reply, err := d.callEngine(ctx, step,
		"A caller just connected. Greet them warmly. "+
			"Keep it brief. Introduce yourself and welcome them.")
	if err != nil {
		return "", err
	}
	return signal.Strip(reply), nil
}

// HandleUtterance processes one transcribed caller utterance and returns
// the text to speak back.
func (d *Driver) HandleUtterance(ctx context.Context, text string) (string, error) {
	if err := d.awaitResume(ctx); err != nil {
		return "", err
	}

	if d.Done() {
		return doneNarration, nil
	}

	d.emit(debug.EventSTT, map[string]any{"text": text})

	if d.matchesExitPhrase(text) {
		d.finish()
		return d.wf.ExitMessage(), nil
	}

	step := d.currentStep()
	if ts, ok := step.(*workflow.ToolStep); ok {
		// Tool steps auto-execute and should never absorb an utterance.
		// If one does (a workflow left the session parked on it), route
		// through its auto intent first.
		d.advance(ts, ts.AutoIntent())
		if d.Done() {
			return d.wf.ExitMessage(), nil
		}
		step = d.currentStep()
	}

	ls, ok := step.(*workflow.LLMStep)
	if !ok {
		return "", core.NewTransitionError(step.ID(), "utterance on non-conversational step")
	}
	return d.handleLLMStep(ctx, ls, text)
}

// handleLLMStep runs one conversational turn.
func (d *Driver) handleLLMStep(ctx context.Context, step *workflow.LLMStep, text string) (string, error) {
	reply, err := d.callEngine(ctx, step, text)
	if err != nil {
		if ce, ok := err.(*core.Error); ok && ce.IsRecoverable() {
			d.logger.Warn("engine call failed, speaking fallback", "error", err, "step", step.ID())
			return fallbackNarration, nil
		}
		return "", err
	}

	d.detectFieldProgress(step, text, reply)

	sig := signal.Extract(reply)
	spoken := signal.Strip(reply)

	if sig.Intent == signal.IntentUnknown {
		// Step not complete. Enforce the turn cap so a confused caller
		// is not trapped in one step forever.
		if d.bumpTurns(step) {
			return spoken, nil
		}
		limit, target, _ := step.TurnCap()
		d.logger.Info("turn cap reached, forcing transition",
			"step", step.ID(), "max_turns", limit, "target", target)
		d.applyTarget(step, d.wf.ParseTarget(target), "max_turns")
		return d.enterCurrent(ctx, spoken)
	}

	d.completeStep(step, sig)

	target, found := d.wf.Resolve(step, sig.Intent)
	if !found {
		// Stay in place; the step keeps the conversation.
		return spoken, nil
	}
	d.applyTarget(step, target, sig.Intent)

	if d.Done() {
		out := strings.TrimSpace(spoken + " " + d.takePendingMessage())
		if out == "" {
			out = "Goodbye!"
		}
		return out, nil
	}

	return d.enterCurrent(ctx, spoken)
}

// enterCurrent runs any pending tool-step chain, then generates the
// opening for the resulting conversational step. lead is text already
// owed to the caller from the completing turn. A transition override
// message replaces the generated opening (or the default exit message).
func (d *Driver) enterCurrent(ctx context.Context, lead string) (string, error) {
	d.runToolSteps(ctx)
	if d.Done() {
		msg := d.takePendingMessage()
		if msg == "" {
			msg = d.wf.ExitMessage()
		}
		return strings.TrimSpace(lead + " " + msg), nil
	}

	step, ok := d.currentLLMStep()
	if !ok {
		return lead, nil
	}

	if msg := d.takePendingMessage(); msg != "" {
		return strings.TrimSpace(lead + " " + msg), nil
	}

	opening, err := d.stepOpening(ctx, step)
	if err != nil {
		d.logger.Warn("step opening failed", "error", err, "step", step.ID())
		return lead, nil
	}
	return strings.TrimSpace(lead + " " + opening), nil
}

// takePendingMessage consumes the override message left by the last
// transition, if any.
func (d *Driver) takePendingMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg := d.pendingMsg
	d.pendingMsg = ""
	return msg
}

// runToolSteps auto-executes consecutive tool steps, routing via each
// step's auto intent on success and "error" on failure.
func (d *Driver) runToolSteps(ctx context.Context) {
	for {
		ts, ok := d.currentStep().(*workflow.ToolStep)
		if !ok || d.Done() {
			return
		}

		d.logger.Info("auto-executing tool step", "step", ts.ID())

		result, err := d.executeToolStep(ctx, ts)
		intent := ts.AutoIntent()
		if err != nil {
			d.logger.Error("tool step failed", "step", ts.ID(), "error", err)
			result = "Error: " + err.Error()
			intent = "error"
		}
		d.setStepData(ts.ID(), result)

		if !d.advance(ts, intent) {
			return
		}
	}
}

// executeToolStep runs every tool the step names, in order.
func (d *Driver) executeToolStep(ctx context.Context, ts *workflow.ToolStep) (string, error) {
	ctx = core.WithSessionID(ctx, d.SessionID())
	var results []string
	for _, name := range ts.ToolNames() {
		tool, ok := d.tools.Get(name)
		if !ok {
			d.logger.Warn("tool not found", "tool", name, "step", ts.ID())
			results = append(results, fmt.Sprintf("Tool %s not available", name))
			continue
		}

		args := d.buildToolArgs(ts)
		result, err := tool.Execute(ctx, args)
		if err != nil {
			return "", err
		}

		d.emit(debug.EventToolExec, map[string]any{
			"tool_name": name,
			"args":      args,
			"result":    truncate(result, 200),
		})
		results = append(results, result)
	}
	return strings.Join(results, "\n"), nil
}

// buildToolArgs resolves the step's declarative argument mapping.
func (d *Driver) buildToolArgs(ts *workflow.ToolStep) map[string]string {
	args := map[string]string{}
	for param, source := range ts.ToolArgsMap() {
		args[param] = d.resolveDataPath(source)
	}
	return args
}

// resolveDataPath evaluates "state.X", "step_data.X", or a literal.
func (d *Driver) resolveDataPath(path string) string {
	if field, ok := strings.CutPrefix(path, "state."); ok {
		return d.state.Get(field)
	}
	if key, ok := strings.CutPrefix(path, "step_data."); ok {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.stepData[key]
	}
	return path
}

// stepOpening generates the first line of a newly entered step from its
// on_enter prompt.
func (d *Driver) stepOpening(ctx context.Context, step *workflow.LLMStep) (string, error) {
	prompt := "Continue the conversation."
	if step.OnEnter() != "" {
		prompt = "You are now entering this conversation step. " +
			"Say this to the caller (rephrase naturally): " + step.OnEnter()
	}
	reply, err := d.callEngine(ctx, step, prompt)
	if err != nil {
		return "", err
	}
	return signal.Strip(reply), nil
}

// callEngine runs one completion with the step's rendered prompt and the
// session transcript, then records both sides in history.
func (d *Driver) callEngine(ctx context.Context, step *workflow.LLMStep, userText string) (string, error) {
	system := d.renderSystemPrompt(step)

	d.mu.Lock()
	history := make([]engine.Message, len(d.history))
	copy(history, d.history)
	d.mu.Unlock()

	d.emit(debug.EventLLMCall, map[string]any{
		"system_prompt": truncate(system, 100),
		"user_text":     userText,
	})

	reply, err := d.provider.Complete(ctx, engine.Request{
		System:   system,
		History:  history,
		UserText: userText,
		Tools:    d.tools.Schemas(toolNamesFor(step, d.wf)),
	})
	if err != nil {
		return "", err
	}

	d.emit(debug.EventLLMResponse, map[string]any{
		"response":        reply,
		"has_json_signal": signal.Extract(reply).Intent != signal.IntentUnknown,
	})

	d.mu.Lock()
	d.history = append(d.history,
		engine.Message{Role: engine.RoleUser, Content: userText},
		engine.Message{Role: engine.RoleAssistant, Content: reply},
	)
	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-keepHistory:]
	}
	d.mu.Unlock()

	return reply, nil
}

// toolNamesFor advertises the tools of any tool step directly reachable
// from this step, so the model can reference what happens next.
func toolNamesFor(step *workflow.LLMStep, wf *workflow.Workflow) []string {
	seen := map[string]bool{}
	var names []string
	for _, raw := range step.Transitions() {
		target := wf.ParseTarget(raw)
		if target.Exit || target.StepID == "" {
			continue
		}
		s, ok := wf.Step(target.StepID)
		if !ok {
			continue
		}
		ts, ok := s.(*workflow.ToolStep)
		if !ok {
			continue
		}
		for _, n := range ts.ToolNames() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// renderSystemPrompt fills {{placeholder}} patterns and appends the TTS
// formatting rules.
func (d *Driver) renderSystemPrompt(step *workflow.LLMStep) string {
	prompt := step.SystemPrompt() + ttsFormatting
	return placeholderPattern.ReplaceAllStringFunc(prompt, func(m string) string {
		key := strings.Trim(m, "{}")
		if alias, ok := placeholderAliases[key]; ok {
			key = alias
		}
		if strings.Contains(key, ".") {
			return d.resolveDataPath(key)
		}
		return d.resolveDataPath("step_data." + key)
	})
}

// completeStep maps the signal's fields onto caller state and step data.
func (d *Driver) completeStep(step *workflow.LLMStep, sig signal.Signal) {
	for jsonKey, target := range step.StateFields() {
		value, present := sig.Fields[jsonKey]
		if !present || value == nil {
			continue
		}
		if key, ok := strings.CutPrefix(target, "step_data."); ok {
			d.setStepData(key, fmt.Sprintf("%v", value))
			continue
		}
		if err := d.state.Set(target, value); err != nil {
			d.logger.Warn("state field mapping failed",
				"step", step.ID(), "field", jsonKey, "target", target, "error", err)
		}
	}

	if done, _ := sig.Fields["done"].(bool); done {
		d.finish()
	}

	d.mu.Lock()
	d.turnsInStep = 0
	d.mu.Unlock()

	d.emit(debug.EventStepComplete, map[string]any{
		"intent": sig.Intent,
		"fields": sig.Fields,
	})
	d.logger.Info("step completed", "step", step.ID(), "intent", sig.Intent)
}

// detectFieldProgress scans the exchange for mentions of the step's
// fields and emits a progress event. Passive heuristic only.
func (d *Driver) detectFieldProgress(step *workflow.LLMStep, userText, reply string) {
	fields := step.StateFields()
	if len(fields) == 0 {
		return
	}

	combined := strings.ToLower(userText + " " + reply)
	detected := map[string]any{}
	for key := range fields {
		for _, pat := range []string{
			strings.ToLower(key),
			strings.ReplaceAll(key, "_", " "),
			strings.ReplaceAll(key, "_", "-"),
		} {
			if strings.Contains(combined, pat) {
				detected[key] = true
				break
			}
		}
	}
	if len(detected) > 0 {
		d.emit(debug.EventFieldProgress, map[string]any{"fields": detected})
	}
}

// bumpTurns counts an utterance against the step's cap. Returns true
// while the step may keep the conversation.
func (d *Driver) bumpTurns(step *workflow.LLMStep) bool {
	limit, _, capped := step.TurnCap()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turnsInStep++
	return !capped || d.turnsInStep < limit
}

// advance applies the transition for an intent from the given step.
// Returns false when the session exited or no transition matched.
func (d *Driver) advance(step workflow.Step, intent string) bool {
	target, found := d.wf.Resolve(step, intent)
	if !found {
		return false
	}
	d.applyTarget(step, target, intent)
	return !d.Done()
}

// applyTarget moves the FSM to a resolved target. The target's override
// message (if any) is held until the next step is entered.
func (d *Driver) applyTarget(from workflow.Step, target workflow.Target, intent string) {
	d.mu.Lock()
	d.pendingMsg = target.Message
	d.mu.Unlock()

	if target.Exit {
		d.finish()
		d.logger.Info("session exit", "from", from.ID(), "intent", intent)
		return
	}

	next, ok := d.wf.Step(target.StepID)
	if !ok {
		// Validate rejects this at load time; guard anyway.
		d.logger.Error("transition to unknown step", "from", from.ID(), "to", target.StepID)
		d.finish()
		return
	}

	d.mu.Lock()
	d.current = next
	d.turnsInStep = 0
	d.mu.Unlock()

	d.logger.Info("fsm advance", "from", from.ID(), "to", target.StepID, "intent", intent)
	d.emit(debug.EventTransition, map[string]any{
		"from": from.ID(), "to": target.StepID, "intent": intent,
	})
}

// matchesExitPhrase checks the utterance against workflow exit phrases.
func (d *Driver) matchesExitPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range d.wf.ExitPhrases() {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (d *Driver) finish() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
}

func (d *Driver) currentStep() workflow.Step {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Driver) currentLLMStep() (*workflow.LLMStep, bool) {
	ls, ok := d.currentStep().(*workflow.LLMStep)
	return ls, ok
}

func (d *Driver) setStepData(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepData[key] = value
}

// awaitResume blocks while the session is paused.
func (d *Driver) awaitResume(ctx context.Context) error {
	for {
		d.mu.Lock()
		ch := d.pauseCh
		d.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) emit(eventType string, data map[string]any) {
	d.mu.Lock()
	b := d.broadcaster
	stepID := ""
	if d.current != nil {
		stepID = d.current.ID()
	}
	d.mu.Unlock()
	if b != nil {
		b.Emit(eventType, stepID, data)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
