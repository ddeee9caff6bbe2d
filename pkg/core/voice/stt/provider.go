// Package stt provides speech-to-text functionality.
package stt

import "context"

// Provider is the interface for speech recognition services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts one utterance of canonical PCM to text.
	// An empty transcript with nil error means the audio held no speech.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
