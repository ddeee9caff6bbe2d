package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// fakeChannel feeds a scripted sequence of reads and records writes.
// When the script runs out it returns empty reads, or repeats the last
// frame when repeatLast is set.
type fakeChannel struct {
	mu         sync.Mutex
	reads      [][]byte
	idx        int
	repeatLast bool
	closed     bool
	writes     [][]byte
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
	if c.repeatLast && len(c.reads) > 0 {
		return c.reads[len(c.reads)-1], nil
	}
	return nil, nil
}

func (c *fakeChannel) WritePlayback(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) writtenBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		n += len(w)
	}
	return n
}

// tonePCM returns ms of constant-amplitude audio, so its RMS equals the
// amplitude exactly.
func tonePCM(ms int, amplitude int16) []byte {
	n := audio.CanonicalConfig().BytesForDurationMs(ms) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(amplitude)
		out[i*2+1] = byte(amplitude >> 8)
	}
	return out
}

func testSettings() *SettingsStore {
	s := DefaultSettings()
	s.PollInterval = time.Millisecond
	s.VADSilenceGapPolls = 3
	s.NoFramesLimit = 10
	return NewSettingsStore(s)
}

func TestWaitForUtteranceEndpoints(t *testing.T) {
	quiet := tonePCM(1, 0)
	loud := tonePCM(1, 2000)

	ch := &fakeChannel{reads: [][]byte{quiet, quiet, loud, loud, loud, quiet, quiet, quiet}}
	d := NewTurnDetector(ch, testSettings(), audio.CanonicalConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pcm, err := d.WaitForUtterance(ctx)
	if err != nil {
		t.Fatalf("WaitForUtterance: %v", err)
	}
	if len(pcm) < len(loud)*3 {
		t.Fatalf("utterance too short: %d bytes, want at least %d", len(pcm), len(loud)*3)
	}
	if d.buffer.Len() != 0 {
		t.Fatal("buffer not drained after endpoint")
	}
}

func TestWaitForUtteranceDeadTransport(t *testing.T) {
	ch := &fakeChannel{}
	d := NewTurnDetector(ch, testSettings(), audio.CanonicalConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := d.WaitForUtterance(ctx)
	if err == nil {
		t.Fatal("expected error for dead transport")
	}
	if core.TypeOf(err) != core.ErrTransport {
		t.Fatalf("error type = %v, want %v", core.TypeOf(err), core.ErrTransport)
	}
	if !errors.Is(err, ErrTransportDead) {
		t.Fatalf("expected ErrTransportDead, got %v", err)
	}
}

func TestWaitForUtteranceChannelClosed(t *testing.T) {
	ch := &fakeChannel{}
	ch.Close()
	d := NewTurnDetector(ch, testSettings(), audio.CanonicalConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := d.WaitForUtterance(ctx)
	if core.TypeOf(err) != core.ErrTransport {
		t.Fatalf("error type = %v, want %v", core.TypeOf(err), core.ErrTransport)
	}
}

func TestWaitForUtteranceCancel(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{tonePCM(1, 0)}, repeatLast: true}
	d := NewTurnDetector(ch, testSettings(), audio.CanonicalConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.WaitForUtterance(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForUtterance did not observe cancellation")
	}
}

func TestPlaybackCompletes(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{tonePCM(1, 0)}, repeatLast: true}
	st := testSettings()
	d := NewTurnDetector(ch, st, audio.CanonicalConfig())
	p := NewPlaybackController(ch, st, d, audio.CanonicalConfig())

	clip := tonePCM(10, 5000)
	outcome, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if outcome != PlaybackCompleted {
		t.Fatalf("outcome = %v, want COMPLETED", outcome)
	}
	if got := ch.writtenBytes(); got != len(clip) {
		t.Fatalf("wrote %d bytes, want %d", got, len(clip))
	}
	// Silent return path: nothing should carry into the next turn.
	if d.buffer.Len() != 0 {
		t.Fatalf("buffer holds %d bytes after quiet playback", d.buffer.Len())
	}
}

func TestPlaybackBargeIn(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{tonePCM(1, 2000)}, repeatLast: true}
	st := testSettings()
	d := NewTurnDetector(ch, st, audio.CanonicalConfig())
	p := NewPlaybackController(ch, st, d, audio.CanonicalConfig())

	var interrupted bool
	var retainedMs int
	var mu sync.Mutex
	p.SetCallbacks(func(ms int) {
		mu.Lock()
		interrupted = true
		retainedMs = ms
		mu.Unlock()
	}, nil)

	clip := tonePCM(200, 5000)
	outcome, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if outcome != PlaybackInterrupted {
		t.Fatalf("outcome = %v, want INTERRUPTED", outcome)
	}
	if got := ch.writtenBytes(); got >= len(clip) {
		t.Fatal("full clip written despite barge-in")
	}

	confirm := st.Load().BargeInConfirmPolls
	pollMs := int(st.Load().PollInterval.Milliseconds())
	wantMs := (confirm + 1) * pollMs
	if got := d.buffer.DurationMs(); got > wantMs {
		t.Fatalf("retained %dms, want at most %dms", got, wantMs)
	}
	if d.buffer.Len() == 0 {
		t.Fatal("no audio retained for the interrupting utterance")
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !interrupted {
		t.Fatal("onInterrupted not fired")
	}
	if retainedMs != wantMs {
		t.Fatalf("callback retainedMs = %d, want %d", retainedMs, wantMs)
	}
}

func TestPlaybackBargeInDisabled(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{tonePCM(1, 2000)}, repeatLast: true}
	st := testSettings()
	st.Update(func(s *Settings) { s.BargeInEnabled = false })
	d := NewTurnDetector(ch, st, audio.CanonicalConfig())
	p := NewPlaybackController(ch, st, d, audio.CanonicalConfig())

	clip := tonePCM(20, 5000)
	outcome, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if outcome != PlaybackCompleted {
		t.Fatalf("outcome = %v, want COMPLETED", outcome)
	}
	// The loud tail still counts as speech and is kept for the next turn.
	if d.buffer.Len() == 0 {
		t.Fatal("expected tail speech to be retained")
	}
}

func TestPlaybackCancel(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{tonePCM(1, 0)}, repeatLast: true}
	st := testSettings()
	st.Update(func(s *Settings) { s.PollInterval = 10 * time.Millisecond })
	d := NewTurnDetector(ch, st, audio.CanonicalConfig())
	p := NewPlaybackController(ch, st, d, audio.CanonicalConfig())

	clip := tonePCM(5000, 5000)
	done := make(chan PlaybackOutcome, 1)
	go func() {
		outcome, _ := p.Play(context.Background(), clip)
		done <- outcome
	}()

	time.Sleep(30 * time.Millisecond)
	p.Cancel()

	select {
	case outcome := <-done:
		if outcome != PlaybackCanceled {
			t.Fatalf("outcome = %v, want CANCELED", outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not observe Cancel")
	}

	written := ch.writtenBytes()
	time.Sleep(50 * time.Millisecond)
	if ch.writtenBytes() != written {
		t.Fatal("writes continued after cancel")
	}
}

func TestSettingsStoreSnapshot(t *testing.T) {
	st := NewSettingsStore(DefaultSettings())

	before := st.Load()
	st.Update(func(s *Settings) { s.VADEnergyThreshold = 450 })

	if before.VADEnergyThreshold != 300 {
		t.Fatal("loaded snapshot mutated by later update")
	}
	if got := st.Load().VADEnergyThreshold; got != 450 {
		t.Fatalf("threshold = %.0f, want 450", got)
	}
}
