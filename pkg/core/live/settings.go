package live

import (
	"sync/atomic"
	"time"
)

// Settings holds the tunables the detection and playback loops read on
// every poll. Operators adjust these mid-call through the admin API, so
// reads must be cheap and writes must never tear.
type Settings struct {
	// VADEnergyThreshold is the RMS level (raw sample units, 0..32767)
	// above which a poll counts as speech while the caller has the floor.
	VADEnergyThreshold float64 `json:"vad_energy_threshold"`

	// VADSpeechConfirmPolls is how many consecutive speech polls are
	// needed before an utterance is considered started.
	VADSpeechConfirmPolls int `json:"vad_speech_confirm_polls"`

	// VADSilenceGapPolls is how many consecutive sub-threshold polls end
	// the utterance.
	VADSilenceGapPolls int `json:"vad_silence_gap_polls"`

	// BargeInEnabled controls whether caller speech can cut off playback.
	BargeInEnabled bool `json:"barge_in_enabled"`

	// BargeInEnergyThreshold is the RMS level a poll must exceed during
	// playback to count toward a barge-in. Set higher than the VAD
	// threshold so playback bleed does not trip it.
	BargeInEnergyThreshold float64 `json:"barge_in_energy_threshold"`

	// BargeInConfirmPolls is how many consecutive over-threshold polls
	// confirm a barge-in.
	BargeInConfirmPolls int `json:"barge_in_confirm_polls"`

	// PollInterval is the cadence of both loops.
	PollInterval time.Duration `json:"poll_interval"`

	// NoFramesLimit is how many consecutive empty polls mean the
	// transport is dead.
	NoFramesLimit int `json:"no_frames_limit"`

	// TTSVoice and TTSEngine select the synthesis backend for new turns.
	TTSVoice  string `json:"tts_voice"`
	TTSEngine string `json:"tts_engine"`
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		VADEnergyThreshold:     300,
		VADSpeechConfirmPolls:  1,
		VADSilenceGapPolls:     8,
		BargeInEnabled:         true,
		BargeInEnergyThreshold: 600,
		BargeInConfirmPolls:    2,
		PollInterval:           100 * time.Millisecond,
		NoFramesLimit:          100,
		TTSVoice:               "alloy",
		TTSEngine:              "openai",
	}
}

// SettingsStore publishes a Settings snapshot to the audio loops.
// Readers load a consistent copy with no lock; writers swap the whole
// value. A poll that started before a write finishes with the old
// snapshot, which is fine at a 100ms cadence.
type SettingsStore struct {
	p atomic.Pointer[Settings]
}

// NewSettingsStore creates a store seeded with the given settings.
func NewSettingsStore(s Settings) *SettingsStore {
	st := &SettingsStore{}
	st.p.Store(&s)
	return st
}

// Load returns the current snapshot.
func (s *SettingsStore) Load() Settings {
	return *s.p.Load()
}

// Store replaces the snapshot.
func (s *SettingsStore) Store(next Settings) {
	s.p.Store(&next)
}

// Update applies fn to a copy of the current snapshot and publishes it.
// Not atomic against concurrent Update calls; the admin API serializes
// writers.
func (s *SettingsStore) Update(fn func(*Settings)) Settings {
	next := s.Load()
	fn(&next)
	s.p.Store(&next)
	return next
}
