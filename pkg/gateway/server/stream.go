package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/loftcall/loftcall/pkg/gateway/channels"
	"github.com/loftcall/loftcall/pkg/gateway/voiceloop"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	// Twilio media streams carry no Origin header, and browser clients
	// authenticate through the signaling layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTwiML answers Twilio's webhook with instructions to open a
// media stream back to this host.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	wf := r.URL.Query().Get("workflow")
	if wf == "" {
		wf = s.cfg.DefaultWorkflow
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="wss://%s/twilio/stream">
      <Parameter name="workflow" value="%s"/>
    </Stream>
  </Connect>
</Response>
`, r.Host, wf)
}

// handleTwilioStream owns one phone call.
func (s *Server) handleTwilioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch, err := channels.NewTwilioChannel(conn)
	if err != nil {
		s.logger.Warn("twilio stream handshake failed", "error", err)
		_ = conn.Close()
		return
	}

	driver, err := s.newDriver(ch.CustomParameter("workflow"))
	if err != nil {
		s.logger.Error("driver construction failed", "error", err)
		_ = ch.Close()
		return
	}

	loop := voiceloop.New(voiceloop.Config{
		Channel:     ch,
		Settings:    s.deps.Settings,
		Driver:      driver,
		STT:         s.deps.STT,
		TTS:         s.deps.TTS,
		Registry:    s.deps.Registry,
		Store:       s.deps.Store,
		Metrics:     s.deps.Metrics,
		Logger:      s.logger,
		CallSID:     ch.CallSID(),
		PhoneNumber: ch.CustomParameter("caller"),
	})
	if err := loop.Run(r.Context()); err != nil {
		s.logger.Error("call loop failed", "error", err, "call_sid", ch.CallSID())
	}
}

// handleBrowserCall owns one browser session over a plain websocket.
func (s *Server) handleBrowserCall(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	driver, err := s.newDriver(r.URL.Query().Get("workflow"))
	if err != nil {
		s.logger.Error("driver construction failed", "error", err)
		_ = conn.Close()
		return
	}

	ch := channels.NewBrowserChannel(conn)
	loop := voiceloop.New(voiceloop.Config{
		Channel:     ch,
		Settings:    s.deps.Settings,
		Driver:      driver,
		STT:         s.deps.STT,
		TTS:         s.deps.TTS,
		Registry:    s.deps.Registry,
		Store:       s.deps.Store,
		Metrics:     s.deps.Metrics,
		Logger:      s.logger,
		CallSID:     "browser",
		PhoneNumber: "",
	})
	if err := loop.Run(r.Context()); err != nil {
		s.logger.Error("call loop failed", "error", err)
	}
}

// handleICEServers hands browser clients their WebRTC server list.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	servers := s.deps.ICE.Servers(r.Context())
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"ice_servers": servers})
}

// handleSessionEvents streams a session's debug events over a
// websocket: the backlog first, then live events until either side
// disconnects.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.deps.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	b := d.Broadcaster()
	if b == nil {
		writeError(w, http.StatusNotFound, "not_found", "session has no event stream")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	backlog, events, cancel := b.Attach()
	defer cancel()

	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// Reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
