package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loftcall/loftcall/pkg/core/audio"
)

// PlaybackOutcome indicates how a playback run ended.
type PlaybackOutcome int

const (
	// PlaybackCompleted means the full clip was delivered.
	PlaybackCompleted PlaybackOutcome = iota
	// PlaybackInterrupted means the caller barged in and the rest of the
	// clip was dropped.
	PlaybackInterrupted
	// PlaybackCanceled means the run was stopped externally.
	PlaybackCanceled
)

// String returns a human-readable playback outcome.
func (o PlaybackOutcome) String() string {
	switch o {
	case PlaybackCompleted:
		return "COMPLETED"
	case PlaybackInterrupted:
		return "INTERRUPTED"
	case PlaybackCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// tailCheckMs is how much trailing caller audio is inspected after a
// completed playback. Speech in that window started while the agent was
// still talking and is retained as the opening of the next utterance.
const tailCheckMs = 300

// PlaybackController delivers synthesized audio to the caller one poll
// at a time while watching the return path for barge-in.
//
// The flow for one run:
//  1. Each poll, write one PollInterval worth of audio to the channel.
//  2. Ingest caller audio through the detector on the same cadence.
//  3. BargeInConfirmPolls consecutive polls over the barge-in threshold
//     stop the run. The audio covering those polls plus one is retained
//     so the interrupting words are not lost.
//  4. On normal completion, a tail check retains late caller speech.
type PlaybackController struct {
	channel  Channel
	settings *SettingsStore
	detector *TurnDetector
	cfg      audio.Config

	mu     sync.Mutex
	cancel context.CancelFunc

	onInterrupted func(retainedMs int)
	onDebug       func(category, message string)
}

// NewPlaybackController creates a controller sharing the detector's
// capture buffer, so audio heard during playback carries into the next
// turn.
func NewPlaybackController(channel Channel, settings *SettingsStore, detector *TurnDetector, cfg audio.Config) *PlaybackController {
	return &PlaybackController{
		channel:  channel,
		settings: settings,
		detector: detector,
		cfg:      cfg,
	}
}

// SetCallbacks sets the event callbacks for the controller.
func (p *PlaybackController) SetCallbacks(
	onInterrupted func(retainedMs int),
	onDebug func(category, message string),
) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInterrupted = onInterrupted
	p.onDebug = onDebug
}

// Cancel stops the in-flight Play run, if any. The run observes the
// cancellation within one poll and writes nothing further.
func (p *PlaybackController) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Play delivers pcm to the caller and returns how the run ended. Only
// one run may be active at a time; the session loop guarantees that.
func (p *PlaybackController) Play(ctx context.Context, pcm []byte) (PlaybackOutcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	s := p.settings.Load()
	chunkBytes := p.cfg.BytesForDurationMs(int(s.PollInterval.Milliseconds()))
	if chunkBytes == 0 {
		chunkBytes = len(pcm)
	}

	confirmPolls := 0
	offset := 0

	for offset < len(pcm) {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return PlaybackCanceled, ctx.Err()
			}
			return PlaybackCanceled, nil
		default:
		}

		s = p.settings.Load()

		end := offset + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := p.channel.WritePlayback(runCtx, pcm[offset:end]); err != nil {
			return PlaybackCanceled, err
		}
		offset = end

		energy, err := p.detector.ingest()
		if err != nil {
			return PlaybackCanceled, err
		}

		if !s.BargeInEnabled {
			continue
		}
		if energy >= s.BargeInEnergyThreshold {
			confirmPolls++
			if confirmPolls >= s.BargeInConfirmPolls {
				retainMs := (confirmPolls + 1) * int(s.PollInterval.Milliseconds())
				p.detector.retain(retainMs)
				p.debug("BARGE-IN", fmt.Sprintf("confirmed after %d polls, retaining %dms", confirmPolls, retainMs))
				if p.onInterrupted != nil {
					go p.onInterrupted(retainMs)
				}
				return PlaybackInterrupted, nil
			}
		} else {
			confirmPolls = 0
		}

		// Pace delivery in real time so barge-in stays observable while
		// the clip is still audible.
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return PlaybackCanceled, ctx.Err()
			}
			return PlaybackCanceled, nil
		case <-time.After(s.PollInterval):
		}
	}

	// The caller may have started talking over the final words. Keep the
	// tail if it carries speech, otherwise drop playback-era audio.
	s = p.settings.Load()
	if p.detector.bufferedRMSLast(tailCheckMs) >= s.VADEnergyThreshold {
		p.detector.retain(tailCheckMs)
		p.debug("BARGE-IN", "speech in playback tail, retaining")
	} else {
		p.detector.discard()
	}
	return PlaybackCompleted, nil
}

func (p *PlaybackController) debug(category, message string) {
	p.mu.Lock()
	fn := p.onDebug
	p.mu.Unlock()
	if fn != nil {
		go fn(category, message)
	}
}
