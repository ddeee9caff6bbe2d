package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// ErrTransportDead is returned when the channel stops delivering frames
// for longer than Settings.NoFramesLimit polls.
var ErrTransportDead = errors.New("live: transport stopped delivering frames")

// preRollMs is how much idle audio is kept ahead of a confirmed speech
// start, so the first syllable is not clipped from the utterance.
const preRollMs = 300

// TurnDetector owns the caller-side half of the audio loop. It polls the
// channel on a fixed cadence, runs the energy VAD over each poll, and
// hands back one complete utterance at a time.
//
// The flow for one turn:
//  1. Poll the channel every PollInterval, buffering audio.
//  2. VADSpeechConfirmPolls consecutive polls over the energy threshold
//     mark speech start.
//  3. VADSilenceGapPolls consecutive polls under it mark the endpoint.
//  4. The buffered audio (with pre-roll) is returned as the utterance.
type TurnDetector struct {
	channel  Channel
	settings *SettingsStore

	mu     sync.Mutex
	buffer *audio.Buffer

	onSpeechStart func()
	onEndpoint    func(durationMs int)
	onDebug       func(category, message string)
}

// NewTurnDetector creates a detector reading from the given channel.
func NewTurnDetector(channel Channel, settings *SettingsStore, cfg audio.Config) *TurnDetector {
	return &TurnDetector{
		channel:  channel,
		settings: settings,
		// 60s cap bounds memory on a caller who never stops talking.
		buffer: audio.NewBuffer(cfg, 60_000),
	}
}

// SetCallbacks sets the event callbacks for the detector.
func (d *TurnDetector) SetCallbacks(
	onSpeechStart func(),
	onEndpoint func(durationMs int),
	onDebug func(category, message string),
) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpeechStart = onSpeechStart
	d.onEndpoint = onEndpoint
	d.onDebug = onDebug
}

// WaitForUtterance blocks until the caller finishes one utterance and
// returns its canonical PCM. It returns ctx.Err() on cancellation and a
// transport error when the channel goes dead or closes.
//
// Leftover audio from a barge-in (retained by the playback loop) is
// treated as the start of the next utterance.
func (d *TurnDetector) WaitForUtterance(ctx context.Context) ([]byte, error) {
	s := d.settings.Load()

	// Audio retained from a barge-in means the caller is already talking.
	speaking := d.buffer.DurationMs() > 0
	if speaking {
		d.debug("VAD", fmt.Sprintf("resuming mid-utterance with %dms retained audio", d.buffer.DurationMs()))
	}

	confirmPolls := 0
	silencePolls := 0
	emptyPolls := 0

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		s = d.settings.Load()

		pcm, err := d.channel.ReadAvailable()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, core.NewTransportError("channel closed", err)
			}
			return nil, core.NewTransportError("channel read failed", err)
		}

		if len(pcm) == 0 {
			emptyPolls++
			if emptyPolls >= s.NoFramesLimit {
				return nil, core.NewTransportError("no frames received", ErrTransportDead)
			}
			if speaking {
				// An empty poll while the caller holds the floor counts
				// toward the silence gap, otherwise a flaky transport
				// could stall endpointing forever.
				silencePolls++
				if silencePolls >= s.VADSilenceGapPolls {
					return d.takeUtterance(), nil
				}
			}
			continue
		}
		emptyPolls = 0

		d.buffer.Write(pcm)
		energy := audio.RMSEnergy(pcm)

		if !speaking {
			if energy >= s.VADEnergyThreshold {
				confirmPolls++
				if confirmPolls >= s.VADSpeechConfirmPolls {
					speaking = true
					silencePolls = 0
					d.debug("VAD", fmt.Sprintf("speech start (energy %.0f)", energy))
					if d.onSpeechStart != nil {
						go d.onSpeechStart()
					}
				}
			} else {
				confirmPolls = 0
				// Idle audio only matters as pre-roll.
				d.buffer.TrimToLast(preRollMs)
			}
			continue
		}

		if energy < s.VADEnergyThreshold {
			silencePolls++
			if silencePolls >= s.VADSilenceGapPolls {
				return d.takeUtterance(), nil
			}
		} else {
			silencePolls = 0
		}
	}
}

// takeUtterance drains the buffer and fires the endpoint callback.
func (d *TurnDetector) takeUtterance() []byte {
	pcm := d.buffer.Read()
	d.buffer.Clear()

	durationMs := 0
	if len(pcm) > 0 {
		durationMs = audio.CanonicalConfig().DurationMs(len(pcm))
	}
	d.debug("VAD", fmt.Sprintf("endpoint after %dms of speech", durationMs))
	if d.onEndpoint != nil {
		go d.onEndpoint(durationMs)
	}
	return pcm
}

// ingest pulls pending channel audio into the buffer and returns the RMS
// energy of what arrived. The playback loop calls this each poll so
// caller audio keeps flowing into the same buffer the next
// WaitForUtterance will read from.
func (d *TurnDetector) ingest() (float64, error) {
	pcm, err := d.channel.ReadAvailable()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, core.NewTransportError("channel closed", err)
		}
		return 0, core.NewTransportError("channel read failed", err)
	}
	if len(pcm) == 0 {
		return 0, nil
	}
	d.buffer.Write(pcm)
	return audio.RMSEnergy(pcm), nil
}

// retain trims the buffer to the last durationMs, keeping the start of
// an interrupting utterance while discarding playback-era audio.
func (d *TurnDetector) retain(durationMs int) {
	d.buffer.TrimToLast(durationMs)
}

// discard empties the buffer.
func (d *TurnDetector) discard() {
	d.buffer.Clear()
}

// bufferedRMSLast reports the energy of the most recent durationMs of
// buffered audio. Used for the tail-speech check after playback.
func (d *TurnDetector) bufferedRMSLast(durationMs int) float64 {
	return d.buffer.RMSLast(durationMs)
}

func (d *TurnDetector) debug(category, message string) {
	if d.onDebug != nil {
		go d.onDebug(category, message)
	}
}
