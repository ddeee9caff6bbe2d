package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loftcall/loftcall/pkg/core/debug"
	"github.com/loftcall/loftcall/pkg/core/engine"
	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
	"github.com/loftcall/loftcall/pkg/core/tools"
	"github.com/loftcall/loftcall/pkg/core/workflow"
	"github.com/loftcall/loftcall/pkg/gateway/config"
	"github.com/loftcall/loftcall/pkg/gateway/ice"
	"github.com/loftcall/loftcall/pkg/gateway/metrics"
	"github.com/loftcall/loftcall/pkg/store"
)

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }

func (staticProvider) Complete(context.Context, engine.Request) (string, error) {
	return "Okay.", nil
}

func testWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Compile(workflow.WorkflowDef{
		ID:           "apartment_viewing",
		InitialState: "hello",
		ExitMessage:  "Goodbye!",
		States: map[string]workflow.StateDef{
			"hello": {
				ID:          "hello",
				StepType:    "llm",
				Transitions: map[string]string{"done": "exit"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return wf
}

type fixture struct {
	server   *httptest.Server
	registry *session.Registry
	store    *store.MemoryStore
	settings *live.SettingsStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	wf := testWorkflow(t)
	iceProvider, err := ice.New(ice.Credentials{}, `[{"urls": "stun:stun.l.google.com:19302"}]`, logger)
	if err != nil {
		t.Fatalf("ice.New: %v", err)
	}

	f := &fixture{
		registry: session.NewRegistry(logger),
		store:    store.NewMemoryStore(),
		settings: live.NewSettingsStore(live.DefaultSettings()),
	}

	cfg := config.Config{
		AdminToken:          "secret",
		DefaultWorkflow:     "apartment_viewing",
		ReadHeaderTimeout:   time.Second,
		ShutdownGracePeriod: time.Second,
	}
	srv := New(cfg, Deps{
		Logger:    logger,
		Workflows: map[string]*workflow.Workflow{wf.ID(): wf},
		Provider:  staticProvider{},
		Tools:     tools.NewRegistry(),
		Settings:  f.settings,
		Registry:  f.registry,
		Store:     f.store,
		Metrics:   metrics.New(),
		ICE:       iceProvider,
	})

	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

// addSession registers a live driver and returns its id.
func (f *fixture) addSession(t *testing.T) string {
	t.Helper()
	d := session.NewDriver(session.Config{
		Workflow: testWorkflow(t),
		Provider: staticProvider{},
		Tools:    tools.NewRegistry(),
		Logger:   slog.New(slog.DiscardHandler),
	})
	id, unregister := f.registry.Register(d)
	t.Cleanup(unregister)

	b := debug.NewBroadcaster(id)
	d.AttachBroadcaster(b)
	d.Start("CAtest", "+15125550123")
	return id
}

func (f *fixture) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	} else {
		req, err = http.NewRequest(method, f.server.URL+path, nil)
	}
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAdminAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSessionListAndDetail(t *testing.T) {
	f := newFixture(t)
	id := f.addSession(t)

	var list struct {
		Sessions []session.Summary `json:"sessions"`
	}
	decodeBody(t, f.do(t, http.MethodGet, "/api/sessions", ""), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != id {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	var detail session.Detail
	decodeBody(t, f.do(t, http.MethodGet, "/api/sessions/"+id, ""), &detail)
	if detail.CurrentStepID != "hello" {
		t.Fatalf("detail = %+v", detail)
	}

	resp := f.do(t, http.MethodGet, "/api/sessions/nope", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionListIncludesStoredWithAll(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Save(context.Background(), session.Summary{
		SessionID: "ended-1", Done: true, StartedAt: time.Now().Add(-time.Hour),
	})

	var list struct {
		Sessions []session.Summary `json:"sessions"`
	}
	decodeBody(t, f.do(t, http.MethodGet, "/api/sessions?all=1", ""), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "ended-1" {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	decodeBody(t, f.do(t, http.MethodGet, "/api/sessions", ""), &list)
	if len(list.Sessions) != 0 {
		t.Fatalf("sessions without all = %+v", list.Sessions)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	id := f.addSession(t)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/pause", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	d, _ := f.registry.Get(id)
	if !d.Paused() {
		t.Fatal("driver not paused")
	}

	resp = f.do(t, http.MethodPost, "/api/sessions/"+id+"/resume", "")
	resp.Body.Close()
	if d.Paused() {
		t.Fatal("driver still paused")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	var got live.Settings
	decodeBody(t, f.do(t, http.MethodGet, "/api/settings", ""), &got)
	if got.VADEnergyThreshold != 300 {
		t.Fatalf("default threshold = %v", got.VADEnergyThreshold)
	}

	// Partial update: only the threshold changes.
	decodeBody(t, f.do(t, http.MethodPut, "/api/settings", `{"vad_energy_threshold": 450}`), &got)
	if got.VADEnergyThreshold != 450 {
		t.Fatalf("threshold = %v, want 450", got.VADEnergyThreshold)
	}
	if got.BargeInEnergyThreshold != 600 {
		t.Fatalf("barge-in threshold = %v, want untouched 600", got.BargeInEnergyThreshold)
	}
	if f.settings.Load().VADEnergyThreshold != 450 {
		t.Fatal("settings store not updated")
	}

	resp := f.do(t, http.MethodPut, "/api/settings", `{"poll_interval": -5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestICEServersEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		ICEServers []map[string]any `json:"ice_servers"`
	}
	decodeBody(t, resp, &body)
	if len(body.ICEServers) != 1 || body.ICEServers[0]["urls"] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ice servers = %+v", body.ICEServers)
	}
}

func TestTwiMLPointsAtStream(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.Client().Post(f.server.URL+"/twilio/twiml", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "/twilio/stream") || !strings.Contains(body, `value="apartment_viewing"`) {
		t.Fatalf("twiml = %s", body)
	}
}

func TestSessionEventsStream(t *testing.T) {
	f := newFixture(t)
	id := f.addSession(t)

	d, _ := f.registry.Get(id)
	d.Broadcaster().Emit(debug.EventTransition, "hello", map[string]any{"to": "gather"})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/api/sessions/" + id + "/events?token=secret"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev debug.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != debug.EventTransition || ev.SessionID != id {
		t.Fatalf("event = %+v", ev)
	}
}
