// Package voiceloop runs one call end to end: audio in, turn
// detection, transcription, the conversation driver, synthesis, and
// playback with barge-in.
package voiceloop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
	"github.com/loftcall/loftcall/pkg/core/debug"
	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
	"github.com/loftcall/loftcall/pkg/core/voice/stt"
	"github.com/loftcall/loftcall/pkg/core/voice/tts"
	"github.com/loftcall/loftcall/pkg/gateway/metrics"
	"github.com/loftcall/loftcall/pkg/store"
)

// clearer is implemented by channels that can flush remote playback
// buffers on barge-in.
type clearer interface {
	Clear() error
}

// retryLine is spoken when transcription or the engine fails so the
// caller hears something instead of dead air.
const retryLine = "Sorry, I didn't catch that. Could you say it again?"

// maxConsecutiveFailures ends the call when every turn is erroring,
// rather than apologizing forever.
const maxConsecutiveFailures = 3

// Config assembles one call's loop.
type Config struct {
	Channel  live.Channel
	Settings *live.SettingsStore
	Driver   *session.Driver
	STT      stt.Provider
	TTS      tts.Provider
	Registry *session.Registry
	Store    store.SessionStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CallSID and PhoneNumber seed the caller record.
	CallSID     string
	PhoneNumber string
}

// Loop drives one voice session.
type Loop struct {
	cfg      Config
	detector *live.TurnDetector
	playback *live.PlaybackController
	logger   *slog.Logger
}

// New wires the detector and playback controller over the channel.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audioCfg := audio.CanonicalConfig()
	detector := live.NewTurnDetector(cfg.Channel, cfg.Settings, audioCfg)
	playback := live.NewPlaybackController(cfg.Channel, cfg.Settings, detector, audioCfg)
	return &Loop{
		cfg:      cfg,
		detector: detector,
		playback: playback,
		logger:   logger,
	}
}

// Run owns the call until the caller hangs up, the transport dies, the
// workflow exits, or ctx is canceled. It always closes the channel.
func (l *Loop) Run(ctx context.Context) error {
	defer l.cfg.Channel.Close()

	id, unregister := l.cfg.Registry.Register(l.cfg.Driver)
	defer unregister()

	b := debug.NewBroadcaster(id)
	l.cfg.Driver.AttachBroadcaster(b)
	l.cfg.Driver.Start(l.cfg.CallSID, l.cfg.PhoneNumber)

	logger := l.logger.With("session_id", id)

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SessionsStarted.Inc()
		l.cfg.Metrics.ActiveSessions.Inc()
		defer l.cfg.Metrics.ActiveSessions.Dec()
	}

	l.detector.SetCallbacks(
		nil,
		func(durationMs int) {
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.Utterances.Inc()
			}
		},
		func(category, message string) {
			logger.Debug("audio", "category", category, "message", message)
		},
	)
	l.playback.SetCallbacks(
		func(retainedMs int) {
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.BargeIns.Inc()
			}
			b.Emit(debug.EventBargeIn, l.cfg.Driver.CurrentStepID(),
				map[string]any{"retained_ms": retainedMs})
			if c, ok := l.cfg.Channel.(clearer); ok {
				if err := c.Clear(); err != nil {
					logger.Warn("clear after barge-in failed", "error", err)
				}
			}
		},
		func(category, message string) {
			logger.Debug("audio", "category", category, "message", message)
		},
	)

	reason := l.run(ctx, logger)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SessionsCompleted.WithLabelValues(reason).Inc()
	}
	l.snapshot(logger)
	logger.Info("session ended", "reason", reason)
	return nil
}

// run returns the completion reason for metrics.
func (l *Loop) run(ctx context.Context, logger *slog.Logger) string {
	greeting, err := l.cfg.Driver.Greeting(ctx)
	if err != nil {
		logger.Warn("greeting failed", "error", err)
	} else if !l.speak(ctx, greeting, logger) {
		return endReason(ctx)
	}

	failures := 0
	for {
		pcm, err := l.detector.WaitForUtterance(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "shutdown"
			}
			if core.TypeOf(err) == core.ErrTransport {
				return "hangup"
			}
			logger.Error("turn detection failed", "error", err)
			return "error"
		}

		text, err := l.transcribe(ctx, pcm)
		if err != nil {
			logger.Warn("transcription failed", "error", err)
			failures++
			if failures >= maxConsecutiveFailures {
				return "error"
			}
			if !l.speak(ctx, retryLine, logger) {
				return endReason(ctx)
			}
			continue
		}
		if text == "" {
			continue
		}
		logger.Info("utterance", "text", text)

		reply, err := l.cfg.Driver.HandleUtterance(ctx, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "shutdown"
			}
			logger.Error("utterance handling failed", "error", err)
			failures++
			if failures >= maxConsecutiveFailures {
				return "error"
			}
			if !l.speak(ctx, retryLine, logger) {
				return endReason(ctx)
			}
			continue
		}
		failures = 0

		if reply != "" && !l.speak(ctx, reply, logger) {
			return endReason(ctx)
		}
		l.snapshot(logger)

		if l.cfg.Driver.Done() {
			return "completed"
		}
	}
}

// speak synthesizes and plays one reply. It reports false when the
// transport is gone and the loop should stop.
func (l *Loop) speak(ctx context.Context, text string, logger *slog.Logger) bool {
	s := l.cfg.Settings.Load()

	start := time.Now()
	pcm, err := l.cfg.TTS.Synthesize(ctx, text, tts.SynthesizeOptions{Voice: s.TTSVoice})
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SynthesizeLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logger.Warn("synthesis failed", "error", err)
		return true
	}

	outcome, err := l.playback.Play(ctx, pcm)
	if err != nil {
		if core.TypeOf(err) == core.ErrTransport {
			return false
		}
		logger.Warn("playback failed", "error", err)
		return !errors.Is(err, context.Canceled)
	}
	logger.Debug("playback finished", "outcome", outcome.String())
	return true
}

func (l *Loop) transcribe(ctx context.Context, pcm []byte) (string, error) {
	start := time.Now()
	text, err := l.cfg.STT.Transcribe(ctx, pcm)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.TranscribeLatency.Observe(time.Since(start).Seconds())
	}
	return text, err
}

// snapshot persists the session summary; monitor reads survive the
// process when the store is Redis-backed.
func (l *Loop) snapshot(logger *slog.Logger) {
	if l.cfg.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.cfg.Store.Save(saveCtx, l.cfg.Driver.Summary()); err != nil {
		logger.Warn("session snapshot failed", "error", err)
	}
}

func endReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "shutdown"
	}
	return "hangup"
}
