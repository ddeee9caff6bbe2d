package voiceloop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loftcall/loftcall/pkg/core/audio"
	"github.com/loftcall/loftcall/pkg/core/engine"
	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
	"github.com/loftcall/loftcall/pkg/core/tools"
	"github.com/loftcall/loftcall/pkg/core/voice/tts"
	"github.com/loftcall/loftcall/pkg/core/workflow"
	"github.com/loftcall/loftcall/pkg/gateway/metrics"
	"github.com/loftcall/loftcall/pkg/store"
)

// fakeChannel feeds scripted reads and records playback writes. When
// the script runs out it returns empty reads until closed.
type fakeChannel struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	closed bool
	writes int
}

func (c *fakeChannel) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, io.EOF
	}
	if c.idx < len(c.reads) {
		r := c.reads[c.idx]
		c.idx++
		return r, nil
	}
	return nil, nil
}

func (c *fakeChannel) WritePlayback(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.writes += len(pcm)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

type fakeSTT struct {
	mu      sync.Mutex
	replies []string
}

func (s *fakeSTT) Name() string { return "fake" }

func (s *fakeSTT) Transcribe(_ context.Context, pcm []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake" }

func (fakeTTS) Synthesize(_ context.Context, text string, _ tts.SynthesizeOptions) ([]byte, error) {
	// One poll's worth of silence per reply keeps playback fast.
	return make([]byte, audio.CanonicalConfig().BytesForDurationMs(2)), nil
}

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ engine.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "Okay.", nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func testWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Compile(workflow.WorkflowDef{
		ID:           "greet_only",
		InitialState: "hello",
		ExitPhrases:  []string{"goodbye"},
		ExitMessage:  "Thanks for calling. Goodbye!",
		States: map[string]workflow.StateDef{
			"hello": {
				ID:           "hello",
				StepType:     "llm",
				SystemPrompt: "You are a leasing assistant.",
				Transitions:  map[string]string{"done": "exit"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return wf
}

func testSettings() *live.SettingsStore {
	s := live.DefaultSettings()
	s.PollInterval = time.Millisecond
	s.VADSilenceGapPolls = 3
	s.NoFramesLimit = 10
	return live.NewSettingsStore(s)
}

// tonePCM returns ms of constant-amplitude audio.
func tonePCM(ms int, amplitude int16) []byte {
	n := audio.CanonicalConfig().BytesForDurationMs(ms) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(amplitude)
		out[i*2+1] = byte(amplitude >> 8)
	}
	return out
}

func testLoop(t *testing.T, ch live.Channel, sttReplies []string) (*Loop, *session.Registry, *store.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := session.NewRegistry(logger)
	snapshots := store.NewMemoryStore()

	driver := session.NewDriver(session.Config{
		Workflow: testWorkflow(t),
		Provider: &scriptedProvider{replies: []string{"Hi there! How can I help?"}},
		Tools:    tools.NewRegistry(),
		Logger:   logger,
	})

	loop := New(Config{
		Channel:     ch,
		Settings:    testSettings(),
		Driver:      driver,
		STT:         &fakeSTT{replies: sttReplies},
		TTS:         fakeTTS{},
		Registry:    registry,
		Store:       snapshots,
		Metrics:     metrics.New(),
		Logger:      logger,
		CallSID:     "CAtest",
		PhoneNumber: "+15125550123",
	})
	return loop, registry, snapshots
}

func TestRunCompletesOnExitPhrase(t *testing.T) {
	quiet := tonePCM(1, 0)
	loud := tonePCM(1, 2000)

	// Greeting plays against empty reads, then the caller says goodbye.
	reads := [][]byte{quiet, quiet}
	for i := 0; i < 5; i++ {
		reads = append(reads, loud)
	}
	reads = append(reads, quiet, quiet, quiet)
	ch := &fakeChannel{reads: reads}

	loop, registry, snapshots := testLoop(t, ch, []string{"goodbye"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ch.written() == 0 {
		t.Fatal("greeting was never played")
	}
	if registry.Count() != 0 {
		t.Fatal("session not unregistered")
	}

	all, err := snapshots.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || !all[0].Done {
		t.Fatalf("snapshots = %+v, want one finished session", all)
	}
}

func TestRunEndsOnHangup(t *testing.T) {
	ch := &fakeChannel{}
	loop, registry, _ := testLoop(t, ch, nil)

	// No frames ever arrive; NoFramesLimit declares the transport dead.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if registry.Count() != 0 {
		t.Fatal("session not unregistered")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ch := &fakeChannel{}
	loop, _, _ := testLoop(t, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}

func TestRunClosesChannel(t *testing.T) {
	ch := &fakeChannel{}
	loop, _, _ := testLoop(t, ch, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = loop.Run(ctx)

	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if !closed {
		t.Fatal("channel left open")
	}
}

// flakySTT fails its first n calls, then behaves like the wrapped
// provider.
type flakySTT struct {
	mu       sync.Mutex
	failures int
	inner    *fakeSTT
}

func (s *flakySTT) Name() string { return "flaky" }

func (s *flakySTT) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return "", errors.New("recognizer unavailable")
	}
	s.mu.Unlock()
	return s.inner.Transcribe(ctx, pcm)
}

func TestTranscriptionFailureSpeaksRetryLine(t *testing.T) {
	quiet := tonePCM(1, 0)
	loud := tonePCM(1, 2000)

	// Two utterances: the first hits a failing recognizer, the second
	// ends the call.
	reads := [][]byte{}
	for i := 0; i < 5; i++ {
		reads = append(reads, loud)
	}
	// Extra quiet so the retry line plays out before the next utterance.
	reads = append(reads, quiet, quiet, quiet, quiet, quiet)
	for i := 0; i < 5; i++ {
		reads = append(reads, loud)
	}
	reads = append(reads, quiet, quiet, quiet)
	ch := &fakeChannel{reads: reads}

	loop, _, snapshots := testLoop(t, ch, []string{"goodbye"})
	loop.cfg.STT = &flakySTT{failures: 1, inner: loop.cfg.STT.(*fakeSTT)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, _ := snapshots.List(context.Background())
	if len(all) != 1 || !all[0].Done {
		t.Fatalf("snapshots = %+v, want one finished session", all)
	}
	// Greeting + retry line + exit message all played.
	if ch.written() < 3*audio.CanonicalConfig().BytesForDurationMs(2) {
		t.Fatalf("written = %d, want at least three replies", ch.written())
	}
}

func TestEmptyTranscriptionIsIgnored(t *testing.T) {
	quiet := tonePCM(1, 0)
	loud := tonePCM(1, 2000)

	// First utterance transcribes empty, second says goodbye.
	reads := [][]byte{}
	for i := 0; i < 5; i++ {
		reads = append(reads, loud)
	}
	reads = append(reads, quiet, quiet, quiet)
	for i := 0; i < 5; i++ {
		reads = append(reads, loud)
	}
	reads = append(reads, quiet, quiet, quiet)
	ch := &fakeChannel{reads: reads}

	loop, _, snapshots := testLoop(t, ch, []string{"", "goodbye"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, _ := snapshots.List(context.Background())
	if len(all) != 1 || !all[0].Done {
		t.Fatalf("snapshots = %+v", all)
	}
	if !strings.Contains(all[0].CurrentStepID, "hello") {
		t.Fatalf("step = %q", all[0].CurrentStepID)
	}
}
