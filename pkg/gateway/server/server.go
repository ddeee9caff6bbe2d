// Package server wires the gateway's HTTP surface: call transports,
// the monitor/admin API, debug event streaming, and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/engine"
	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
	"github.com/loftcall/loftcall/pkg/core/tools"
	"github.com/loftcall/loftcall/pkg/core/voice/stt"
	"github.com/loftcall/loftcall/pkg/core/voice/tts"
	"github.com/loftcall/loftcall/pkg/core/workflow"
	"github.com/loftcall/loftcall/pkg/gateway/config"
	"github.com/loftcall/loftcall/pkg/gateway/ice"
	"github.com/loftcall/loftcall/pkg/gateway/metrics"
	"github.com/loftcall/loftcall/pkg/gateway/mw"
	"github.com/loftcall/loftcall/pkg/store"
)

// Deps carries the collaborators the command layer constructs.
type Deps struct {
	Logger    *slog.Logger
	Workflows map[string]*workflow.Workflow
	Provider  engine.Provider
	Tools     *tools.Registry
	STT       stt.Provider
	TTS       tts.Provider
	Settings  *live.SettingsStore
	Registry  *session.Registry
	Store     store.SessionStore
	Metrics   *metrics.Metrics
	ICE       *ice.Provider
}

// Server is the gateway HTTP server.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	router chi.Router

	// settingsMu serializes admin settings writers; readers go through
	// the lock-free snapshot.
	settingsMu sync.Mutex
}

// New assembles the router.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: deps.Logger,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(mw.RequestID)
	r.Use(func(next http.Handler) http.Handler { return mw.AccessLog(s.logger, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.Recover(s.logger, next) })

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	// Call entry points.
	r.HandleFunc("/twilio/twiml", s.handleTwiML)
	r.Get("/twilio/stream", s.handleTwilioStream)
	r.Get("/call", s.handleBrowserCall)
	r.Get("/webrtc/ice", s.handleICEServers)

	// Monitor and admin surface.
	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return mw.Admin(s.cfg.AdminToken, next) })
		r.Get("/sessions", s.handleSessionList)
		r.Get("/sessions/{id}", s.handleSessionDetail)
		r.Post("/sessions/{id}/pause", s.handleSessionPause)
		r.Post("/sessions/{id}/resume", s.handleSessionResume)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)
		r.Get("/settings", s.handleSettingsGet)
		r.Put("/settings", s.handleSettingsPut)
	})
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains within the configured
// grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newDriver builds a session driver for the named workflow.
func (s *Server) newDriver(workflowID string) (*session.Driver, error) {
	if workflowID == "" {
		workflowID = s.cfg.DefaultWorkflow
	}
	wf, ok := s.deps.Workflows[workflowID]
	if !ok {
		return nil, core.NewWorkflowError("unknown workflow " + workflowID)
	}
	return session.NewDriver(session.Config{
		Workflow: wf,
		Provider: s.deps.Provider,
		Tools:    s.deps.Tools,
		Logger:   s.logger,
	}), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.deps.Registry.Count(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}
