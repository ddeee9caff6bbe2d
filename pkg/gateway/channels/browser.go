package channels

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// BrowserChannel bridges a browser client over a plain websocket.
// Binary frames carry 48kHz mono little-endian PCM in both directions;
// text frames carry control messages.
type BrowserChannel struct {
	conn Conn

	in      inbox
	writeMu sync.Mutex

	closeOnce sync.Once
}

type browserControl struct {
	Type string `json:"type"`
}

// NewBrowserChannel wraps an upgraded websocket and starts consuming
// caller audio in the background.
func NewBrowserChannel(conn Conn) *BrowserChannel {
	c := &BrowserChannel{conn: conn}
	go c.readLoop()
	return c
}

func (c *BrowserChannel) readLoop() {
	defer c.in.close()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			// 48kHz browser capture to 16kHz canonical PCM.
			c.in.push(audio.Downsample(data, 3))
		case websocket.TextMessage:
			var ctl browserControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			if ctl.Type == "hangup" {
				return
			}
		}
	}
}

// ReadAvailable implements live.Channel.
func (c *BrowserChannel) ReadAvailable() ([]byte, error) {
	return c.in.drain()
}

// WritePlayback implements live.Channel.
func (c *BrowserChannel) WritePlayback(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio.Upsample(pcm, 3)); err != nil {
		return core.NewTransportError("browser write failed", err)
	}
	return nil
}

// Clear tells the client to drop queued playback on barge-in.
func (c *BrowserChannel) Clear() error {
	frame, _ := json.Marshal(browserControl{Type: "clear"})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return core.NewTransportError("browser write failed", err)
	}
	return nil
}

// Close implements live.Channel.
func (c *BrowserChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.in.close()
		err = c.conn.Close()
	})
	return err
}
