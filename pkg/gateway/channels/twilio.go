package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// Twilio media stream wire messages. Only the fields we read are
// declared; unknown fields are ignored.
type twilioMessage struct {
	Event     string       `json:"event"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	StreamSID string       `json:"streamSid,omitempty"`
}

type twilioStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

// TwilioChannel bridges a Twilio media stream websocket. Inbound media
// frames carry base64 G.711 mu-law at 8kHz; they are decoded and
// upsampled to canonical PCM. Playback goes back out the same way.
type TwilioChannel struct {
	conn Conn

	streamSID string
	callSID   string
	params    map[string]string

	in      inbox
	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewTwilioChannel reads the stream handshake (everything up to the
// start event) and then begins consuming media in the background. It
// fails if the stream stops or errors before start arrives.
func NewTwilioChannel(conn Conn) (*TwilioChannel, error) {
	c := &TwilioChannel{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, core.NewTransportError("media stream closed before start", err)
		}
		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return nil, core.NewTransportError("start event missing payload", nil)
			}
			c.streamSID = msg.Start.StreamSID
			c.callSID = msg.Start.CallSID
			c.params = msg.Start.CustomParameters
			go c.readLoop()
			return c, nil
		case "stop":
			return nil, core.NewTransportError("media stream stopped before start", nil)
		default:
			continue
		}
	}
}

// StreamSID returns the Twilio stream identifier.
func (c *TwilioChannel) StreamSID() string { return c.streamSID }

// CallSID returns the Twilio call identifier.
func (c *TwilioChannel) CallSID() string { return c.callSID }

// CustomParameter returns a <Parameter> value from the TwiML <Stream>.
func (c *TwilioChannel) CustomParameter(name string) string {
	return c.params[name]
}

func (c *TwilioChannel) readLoop() {
	defer c.in.close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			// 8kHz mu-law to 16kHz linear PCM.
			c.in.push(audio.Upsample(audio.DecodeMuLaw(mulaw), 2))
		case "stop":
			return
		}
	}
}

// ReadAvailable implements live.Channel.
func (c *TwilioChannel) ReadAvailable() ([]byte, error) {
	return c.in.drain()
}

// WritePlayback implements live.Channel.
func (c *TwilioChannel) WritePlayback(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(audio.Downsample(pcm, 2)))
	frame, err := json.Marshal(map[string]any{
		"event":     "media",
		"streamSid": c.streamSID,
		"media":     map[string]string{"payload": payload},
	})
	if err != nil {
		return fmt.Errorf("encode media frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return core.NewTransportError("media stream write failed", err)
	}
	return nil
}

// Clear tells Twilio to drop any audio it has buffered but not yet
// played. Called on barge-in so the caller hears the agent stop.
func (c *TwilioChannel) Clear() error {
	frame, err := json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": c.streamSID,
	})
	if err != nil {
		return fmt.Errorf("encode clear frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return core.NewTransportError("media stream write failed", err)
	}
	return nil
}

// Close implements live.Channel.
func (c *TwilioChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.in.close()
		err = c.conn.Close()
	})
	return err
}
