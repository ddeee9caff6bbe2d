// Package channels adapts websocket transports to the live audio
// channel contract. Each channel normalizes inbound audio to canonical
// 16kHz mono PCM and converts playback back to the wire format.
package channels

import (
	"io"
	"sync"
)

// Conn is the subset of *websocket.Conn the channels need. Tests
// substitute a scripted implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// inbox accumulates decoded caller audio between polls. Reads never
// block; the websocket reader goroutine is the only writer.
type inbox struct {
	mu     sync.Mutex
	pcm    []byte
	closed bool
}

func (b *inbox) push(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pcm = append(b.pcm, pcm...)
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// drain returns all buffered audio. Buffered audio is delivered even
// after close, so the tail of the call is not lost; only then does the
// channel report end-of-stream.
func (b *inbox) drain() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pcm) > 0 {
		out := b.pcm
		b.pcm = nil
		return out, nil
	}
	if b.closed {
		return nil, io.EOF
	}
	return nil, nil
}
