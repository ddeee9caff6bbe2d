// Package tts provides text-to-speech functionality.
package tts

import "context"

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	// Voice identifier, provider-specific.
	Voice string

	// Speed multiplier; 0 means the provider default.
	Speed float64
}

// Provider is the interface for text-to-speech services. Implementations
// return canonical PCM (mono s16le 16 kHz) regardless of what the
// backing API produces natively.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to canonical PCM.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error)
}
