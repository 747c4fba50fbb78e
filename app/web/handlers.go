package web

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/agenclip/agenclip/app/content"
	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
	"github.com/agenclip/agenclip/app/session"
	"github.com/agenclip/agenclip/app/web/persistence"
)

// TemplateData holds data for templates
type TemplateData struct {
	Theme        enums.Theme
	Content      *content.Landing
	OrderLink    string
	Version      string
	CurrentYear  int
	Session      session.State
	Run          RunView
	Tab          enums.Tab
	ShowPin      bool   // lock screen with the PIN form open
	PinError     string // wrong PIN message
	ShowSettings bool   // engine connection dialog
	EngineError  string
	Library      []engine.VideoFile
	History      []persistence.HistoryEntry
}

// RunView is the run as shown on the dashboard
type RunView struct {
	persistence.RunInfo
	Results []engine.ClipResult
}

// pageData creates a TemplateData with common fields populated
func (s *Server) pageData(_ *http.Request, st session.State) TemplateData {
	return TemplateData{
		Theme:       st.Theme,
		Content:     s.content,
		OrderLink:   s.content.OrderLink(),
		Version:     s.version,
		CurrentYear: time.Now().Year(),
		Session:     st,
		Tab:         enums.TabUpload,
	}
}

// dashboardData adds the run of the session. Without a run, persisted results show the completed screen.
func (s *Server) dashboardData(r *http.Request, st session.State) TemplateData {
	data := s.pageData(r, st)
	run, err := s.runner.Current(st.ID)
	if err != nil {
		log.Printf("[WARN] %v", err)
	}
	data.Run = RunView{RunInfo: run}
	if run.Screen == enums.ScreenIdle && len(st.LastResults) > 0 {
		data.Run.Screen = enums.ScreenCompleted
		data.Run.Progress = 100
	}
	if data.Run.Screen == enums.ScreenCompleted {
		data.Run.Results = st.LastResults
	}
	data.ShowSettings = !st.Connected()
	if tab, err := enums.ParseTab(r.URL.Query().Get("tab")); err == nil {
		data.Tab = tab
	}
	return data
}

// loadSession returns the session of the request, defaults on storage errors
func (s *Server) loadSession(r *http.Request) session.State {
	st, err := s.sessions.Load(sessionID(r), adminToken(r))
	if err != nil {
		log.Printf("[WARN] %v", err)
	}
	return st
}

// handleLanding renders the public landing page
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "landing", "base", s.pageData(r, s.loadSession(r)))
}

// handleCreate renders the dashboard for unlocked sessions and the coming soon page for everyone else
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	st := s.loadSession(r)
	if !st.AdminUnlocked {
		s.render(w, http.StatusOK, "lock", "base", s.pageData(r, st))
		return
	}
	s.render(w, http.StatusOK, "dashboard", "base", s.dashboardData(r, st))
}

// handleThemeToggle toggles the theme of the session
func (s *Server) handleThemeToggle(w http.ResponseWriter, r *http.Request) {
	st := s.loadSession(r)
	if err := s.sessions.SetTheme(st.ID, st.Theme.Toggle()); err != nil {
		log.Printf("[WARN] %v", err)
		http.Error(w, "Failed to save theme", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") != "true" {
		http.Redirect(w, r, backPath(r), http.StatusSeeOther)
		return
	}
	// trigger full page refresh for theme change
	w.Header().Set("HX-Refresh", "true")
	w.WriteHeader(http.StatusOK)
}

// handleEngineConnect saves the engine url of the session
func (s *Server) handleEngineConnect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	st := s.loadSession(r)
	engineURL, err := s.sessions.SaveBackendURL(st.ID, r.FormValue("url"))
	if err != nil {
		data := s.dashboardData(r, st)
		data.ShowSettings = true
		data.EngineError = "Invalid engine URL"
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, session.ErrBadURL) {
			log.Printf("[WARN] %v", err)
			data.EngineError = "Failed to save engine URL"
			status = http.StatusInternalServerError
		}
		s.render(w, status, "partials", "settings", data)
		return
	}
	log.Printf("[INFO] session %s connected to engine %s", shortID(st.ID), engineURL)

	w.Header().Set("HX-Refresh", "true")
	w.WriteHeader(http.StatusOK)
}

// handleUpload streams the uploaded video to the engine and starts a run
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	st := s.loadSession(r)
	if !st.Connected() {
		s.renderNotConnected(w, r, st)
		return
	}
	if s.runner.InProgress(st.ID) {
		s.render(w, http.StatusConflict, "partials", "run", s.dashboardData(r, st))
		return
	}
	if r.ContentLength > s.maxUpload {
		http.Error(w, "File is too large", http.StatusRequestEntityTooLarge)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(s.uploadTimeout)
	if err := rc.SetReadDeadline(deadline); err != nil {
		log.Printf("[DEBUG] can't extend read deadline, %v", err)
	}
	if err := rc.SetWriteDeadline(deadline); err != nil {
		log.Printf("[DEBUG] can't extend write deadline, %v", err)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Multipart form expected", http.StatusBadRequest)
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			http.Error(w, "File is required", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "Invalid multipart form", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			continue
		}

		_, err = s.runner.Submit(r.Context(), st.ID, st.BackendURL, part.FileName(), part)
		if errors.Is(err, ErrRunInProgress) {
			s.render(w, http.StatusConflict, "partials", "run", s.dashboardData(r, st))
			return
		}
		if err != nil {
			log.Printf("[WARN] upload of %s failed, %v", part.FileName(), err)
		}
		s.render(w, http.StatusOK, "partials", "run", s.dashboardData(r, s.loadSession(r)))
		return
	}
}

// handleReprocess starts a run for a file already in the engine library
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	filename := strings.TrimSpace(r.FormValue("filename"))
	if filename == "" {
		http.Error(w, "Filename is required", http.StatusBadRequest)
		return
	}

	st := s.loadSession(r)
	if !st.Connected() {
		s.renderNotConnected(w, r, st)
		return
	}

	_, err := s.runner.Reprocess(r.Context(), st.ID, st.BackendURL, filename)
	if errors.Is(err, ErrRunInProgress) {
		s.render(w, http.StatusConflict, "partials", "run", s.dashboardData(r, st))
		return
	}
	if err != nil {
		log.Printf("[WARN] reprocess of %s failed, %v", filename, err)
	}
	s.render(w, http.StatusOK, "partials", "run", s.dashboardData(r, st))
}

// renderNotConnected opens the settings dialog in place of the run form target
func (s *Server) renderNotConnected(w http.ResponseWriter, r *http.Request, st session.State) {
	w.Header().Set("HX-Retarget", "#settings")
	w.Header().Set("HX-Reswap", "outerHTML")
	s.render(w, http.StatusUnprocessableEntity, "partials", "settings", s.dashboardData(r, st))
}

// handleRunPartial renders the current screen, the processing screen polls this endpoint
func (s *Server) handleRunPartial(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "partials", "run", s.dashboardData(r, s.loadSession(r)))
}

// handleReset drops the run and the results and returns to the idle screen
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if err := s.runner.Reset(sid); err != nil {
		log.Printf("[WARN] reset for session %s failed, %v", shortID(sid), err)
	}
	s.render(w, http.StatusOK, "partials", "run", s.dashboardData(r, s.loadSession(r)))
}

// handleLibrary renders files known to the engine, engine errors show an empty library
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	st := s.loadSession(r)
	data := s.pageData(r, st)
	data.Library = []engine.VideoFile{}
	if st.Connected() {
		files, err := s.engine.Library(r.Context(), st.BackendURL)
		if err != nil {
			log.Printf("[WARN] can't get library from %s, %v", st.BackendURL, err)
		} else {
			data.Library = files
		}
	}
	s.render(w, http.StatusOK, "partials", "library", data)
}

// handleHistory renders finished runs of the session
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	st := s.loadSession(r)
	data := s.pageData(r, st)
	hist, err := s.store.History(st.ID, s.historyLimit)
	if err != nil {
		log.Printf("[WARN] %v", err)
	}
	data.History = hist
	s.render(w, http.StatusOK, "partials", "history", data)
}

// backPath returns the local path of the referer, "/" if there is none
func backPath(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || !strings.HasPrefix(ref.Path, "/") || strings.HasPrefix(ref.Path, "//") {
		return "/"
	}
	return ref.Path
}

// phaseLabel returns the processing phase for the progress
func phaseLabel(progress int) string {
	return enums.Phase(progress)
}
