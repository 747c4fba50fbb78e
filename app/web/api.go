package web

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
	"github.com/agenclip/agenclip/app/web/persistence"
)

// APIRun is the current run in JSON API response
type APIRun struct {
	JobID     string              `json:"job_id,omitempty"`
	Filename  string              `json:"filename,omitempty"`
	Status    string              `json:"status"`
	Screen    string              `json:"screen"`
	Phase     string              `json:"phase,omitempty"`
	Progress  int                 `json:"progress"`
	Error     string              `json:"error,omitempty"`
	InFlight  bool                `json:"in_flight"`
	Results   []engine.ClipResult `json:"results,omitempty"`
	StartedAt time.Time           `json:"started_at,omitzero"`
	UpdatedAt time.Time           `json:"updated_at,omitzero"`
}

// APIHistoryEntry is a finished run in JSON API response
type APIHistoryEntry struct {
	ID         int       `json:"id"`
	JobID      string    `json:"job_id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Clips      int       `json:"clips"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// APIHistoryResponse is the JSON response for /api/v1/history
type APIHistoryResponse struct {
	Runs []APIHistoryEntry `json:"runs"`
}

// toAPIHistoryEntry converts persistence.HistoryEntry to APIHistoryEntry
func toAPIHistoryEntry(e persistence.HistoryEntry) APIHistoryEntry {
	return APIHistoryEntry{
		ID:         e.ID,
		JobID:      e.JobID,
		Filename:   e.Filename,
		Status:     e.Status.String(),
		Clips:      e.Clips,
		Error:      e.Error,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}
}

// handleAPISession returns the session state
func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.loadSession(r))
}

// handleAPIRun returns the run as the dashboard shows it
func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	data := s.dashboardData(r, s.loadSession(r))
	run := data.Run
	resp := APIRun{
		JobID:     run.JobID,
		Filename:  run.Filename,
		Status:    run.Status.String(),
		Screen:    run.Screen.String(),
		Progress:  run.Progress,
		Error:     run.Error,
		InFlight:  s.runner.InProgress(run.SessionID),
		Results:   run.Results,
		StartedAt: run.StartedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.Screen == enums.ScreenProcessing {
		resp.Phase = phaseLabel(run.Progress)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIHistory returns finished runs of the session, newest first
func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.store.History(sessionID(r), s.historyLimit)
	if err != nil {
		log.Printf("[ERROR] failed to get history: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	resp := APIHistoryResponse{Runs: make([]APIHistoryEntry, 0, len(hist))}
	for _, e := range hist {
		resp.Runs = append(resp.Runs, toAPIHistoryEntry(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
