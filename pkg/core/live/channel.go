// Package live implements the per-call audio pipeline: turn detection
// over an energy VAD, barge-in monitoring, and cancellable playback.
//
// Everything in this package speaks canonical PCM (mono s16le 16 kHz).
// Transport adapters do their own companding and resampling before audio
// reaches a Channel.
package live

import "context"

// Channel is a bidirectional audio link to one caller. Implementations
// wrap a concrete transport (telephony media stream, browser socket) and
// convert to and from canonical PCM at the edge.
type Channel interface {
	// ReadAvailable returns whatever caller audio has arrived since the
	// last call, as canonical PCM. It never blocks: when no audio is
	// pending it returns an empty slice, and after the transport closes
	// it returns io.EOF. Polling loops rely on this to stay responsive
	// to cancellation.
	ReadAvailable() ([]byte, error)

	// WritePlayback sends canonical PCM toward the caller. It may block
	// on transport backpressure, so it takes a context.
	WritePlayback(ctx context.Context, pcm []byte) error

	// Close tears down the transport. Subsequent reads return io.EOF.
	Close() error
}
