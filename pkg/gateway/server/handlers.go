package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
}

// handleSessionList returns live sessions, newest first. With ?all=1
// it merges in persisted snapshots of sessions that already ended.
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	active := s.deps.Registry.List()
	summaries := make([]session.Summary, 0, len(active))
	seen := map[string]bool{}
	for _, d := range active {
		sum := d.Summary()
		summaries = append(summaries, sum)
		seen[sum.SessionID] = true
	}

	if r.URL.Query().Get("all") == "1" && s.deps.Store != nil {
		stored, err := s.deps.Store.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		for _, sum := range stored {
			if !seen[sum.SessionID] {
				summaries = append(summaries, sum)
			}
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// handleSessionDetail returns the full view of one session. Live
// sessions include step data and the event log; ended sessions fall
// back to the stored summary.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if d, ok := s.deps.Registry.Get(id); ok {
		writeJSON(w, http.StatusOK, d.Detail())
		return
	}
	if s.deps.Store != nil {
		if sum, err := s.deps.Store.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, session.Detail{Summary: sum})
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "no such session")
}

func (s *Server) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.deps.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	d.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "paused": true})
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.deps.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	d.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "paused": false})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Load())
}

// handleSettingsPut applies a partial update: absent fields keep their
// current values. The new snapshot is returned.
func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	next := s.deps.Settings.Load()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed settings body")
		return
	}
	if err := validateSettings(next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.deps.Settings.Store(next)
	s.logger.Info("runtime settings updated",
		"vad_threshold", next.VADEnergyThreshold,
		"barge_in_enabled", next.BargeInEnabled)
	writeJSON(w, http.StatusOK, next)
}

func validateSettings(s live.Settings) error {
	switch {
	case s.VADEnergyThreshold <= 0:
		return errSetting("vad_energy_threshold must be > 0")
	case s.VADSpeechConfirmPolls <= 0:
		return errSetting("vad_speech_confirm_polls must be > 0")
	case s.VADSilenceGapPolls <= 0:
		return errSetting("vad_silence_gap_polls must be > 0")
	case s.BargeInEnergyThreshold <= 0:
		return errSetting("barge_in_energy_threshold must be > 0")
	case s.BargeInConfirmPolls <= 0:
		return errSetting("barge_in_confirm_polls must be > 0")
	case s.PollInterval <= 0:
		return errSetting("poll_interval must be > 0")
	case s.NoFramesLimit <= 0:
		return errSetting("no_frames_limit must be > 0")
	}
	return nil
}

type errSetting string

func (e errSetting) Error() string { return string(e) }
