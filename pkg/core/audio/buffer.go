package audio

import (
	"math"
	"sync"
)

// RMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value in raw sample units (0..32767), matching the scale
// the VAD thresholds are expressed in.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		v := float64(sample)
		sum += v * v
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute sample value in the PCM data.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs
}

// Buffer accumulates PCM audio chunks with a configurable maximum size.
// When full, the oldest data is discarded first.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   Config
}

// NewBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewBuffer(config Config, maxDurationMs int) *Buffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &Buffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data to the buffer, trimming from the front if the
// buffer would exceed its maximum size.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Read returns a copy of all buffered audio data.
func (b *Buffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result
}

// ReadLast returns the last durationMs of audio.
func (b *Buffer) ReadLast(durationMs int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.config.BytesForDurationMs(durationMs)
	if n > len(b.data) {
		n = len(b.data)
	}

	result := make([]byte, n)
	copy(result, b.data[len(b.data)-n:])
	return result
}

// TrimToLast discards everything but the last durationMs of audio.
// Used on barge-in to keep the frames holding the start of the caller's
// interrupting speech while dropping stale playback-era audio.
func (b *Buffer) TrimToLast(durationMs int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.config.BytesForDurationMs(durationMs)
	if n >= len(b.data) {
		return
	}
	kept := make([]byte, n)
	copy(kept, b.data[len(b.data)-n:])
	b.data = kept
}

// Len returns the current buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the current buffer duration in milliseconds.
func (b *Buffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RMSLast computes the RMS energy of the last durationMs of audio.
func (b *Buffer) RMSLast(durationMs int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.config.BytesForDurationMs(durationMs)
	if n > len(b.data) {
		n = len(b.data)
	}
	return RMSEnergy(b.data[len(b.data)-n:])
}
