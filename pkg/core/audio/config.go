// Package audio provides the canonical PCM representation and the
// conversions between it and transport-native encodings.
//
// All audio inside the session stack is mono, signed 16-bit little-endian
// PCM at the canonical rate (16 kHz). Transport adapters convert at the
// edges: µ-law 8 kHz for telephony, 48 kHz linear for browser links.
package audio

// Canonical format and common transport rates.
const (
	CanonicalRate = 16000
	TelephonyRate = 8000
	BrowserRate   = 48000

	BytesPerSample = 2
)

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. Common values: 8000, 16000, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono. The stack is mono-only; the field exists so
	// byte math stays honest if that ever changes.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for PCM s16le.
	BitsPerSample int `json:"bits_per_sample"`
}

// CanonicalConfig returns the internal canonical audio configuration.
func CanonicalConfig() Config {
	return Config{
		SampleRate:    CanonicalRate,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
