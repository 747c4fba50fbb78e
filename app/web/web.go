// Package web implements the web server for agenclip: the public landing page, the PIN-gated
// dashboard and the HTMX endpoints driving uploads and runs on the clipping engine.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/agenclip/agenclip/app/content"
	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/session"
	"github.com/agenclip/agenclip/app/web/persistence"
)

//go:embed templates/*.html templates/partials/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

const (
	sessionCookie = "agenclip-session"
	adminCookie   = "agenclip-admin"
	formMaxSize   = 64 * 1024
)

// Server represents the web server
type Server struct {
	store          *persistence.SQLiteStore
	sessions       *session.Manager
	runner         *Runner
	engine         EngineClient
	content        *content.Landing
	templates      map[string]*template.Template
	version        string
	maxUpload      int64
	uploadTimeout  time.Duration
	historyLimit   int
	cleanupSched   string
	retention      time.Duration
	csrfProtection *http.CrossOriginProtection
	unlockLimiter  *limiter.Limiter
}

// Config holds server configuration
type Config struct {
	DBPath           string
	Version          string
	Engine           EngineClient  // engine client, made from Version if nil
	DefaultEngineURL string        // engine url for sessions without their own
	PollInterval     time.Duration // engine status poll interval
	MaxWait          time.Duration // give up on a job after this time, 0 waits forever
	PinHash          string        // bcrypt hash of the admin PIN
	LoginTTL         time.Duration // admin unlock lifetime, defaults to 24h
	UnlockRate       float64       // unlock attempts per second per IP, defaults to 0.2
	MaxUpload        int64         // max upload size in bytes, defaults to 2GB
	UploadTimeout    time.Duration // max time for a single upload, defaults to 30m
	HistoryLimit     int           // runs shown in history, defaults to 20
	Content          *content.Landing
	Notifier         Notifier // optional
	CleanupSchedule  string   // cron spec for housekeeping, empty disables it
	Retention        time.Duration
	ResumeConcur     int
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Content == nil {
		return nil, errors.New("web server initialization failed: content is required")
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to create SQLite store at %q: %w", cfg.DBPath, err)
	}

	engineClient := cfg.Engine
	if engineClient == nil {
		engineClient = engine.NewClient(engine.ClientParams{Version: cfg.Version})
	}

	sessions := session.NewManager(store, session.Params{
		PinHash:           cfg.PinHash,
		DefaultBackendURL: cfg.DefaultEngineURL,
		LoginTTL:          cfg.LoginTTL,
	})

	runnerParams := RunnerParams{
		Engine:       engineClient,
		Store:        store,
		Results:      sessions,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
		ResumeConcur: cfg.ResumeConcur,
	}
	if cfg.Notifier != nil {
		runnerParams.Notifier = cfg.Notifier
	}

	unlockRate := cfg.UnlockRate
	if unlockRate <= 0 {
		unlockRate = 0.2
	}
	unlockLimiter := tollbooth.NewLimiter(unlockRate, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	unlockLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	unlockLimiter.SetBurst(3)
	unlockLimiter.SetMessage("Too many attempts, try again later")

	s := &Server{
		store:          store,
		sessions:       sessions,
		runner:         NewRunner(runnerParams),
		engine:         engineClient,
		content:        cfg.Content,
		version:        cfg.Version,
		maxUpload:      cfg.MaxUpload,
		uploadTimeout:  cfg.UploadTimeout,
		historyLimit:   cfg.HistoryLimit,
		cleanupSched:   cfg.CleanupSchedule,
		retention:      cfg.Retention,
		csrfProtection: http.NewCrossOriginProtection(),
		unlockLimiter:  unlockLimiter,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 2 << 30
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = 30 * time.Minute
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 20
	}

	templates, err := s.parseTemplates()
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w (also failed to close store: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server, resumes interrupted runs and schedules housekeeping.
// Blocks until ctx is canceled, then waits for trackers and closes the store.
func (s *Server) Run(ctx context.Context, address string) error {
	s.runner.Resume(ctx)
	stopCleanup, err := s.startCleanup(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	defer stopCleanup()

	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}

	s.runner.Wait()
	if err := s.store.Close(); err != nil {
		log.Printf("[WARN] failed to close store: %v", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("agenclip", "agenclip", s.version),
		rest.Ping,
		rest.Trace,
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
		s.sessionMiddleware,
	)

	// public pages
	router.Group().Route(func(pub *routegroup.Bundle) {
		pub.Use(rest.SizeLimit(formMaxSize))
		pub.HandleFunc("GET /{$}", s.handleLanding)
		pub.HandleFunc("GET /create", s.handleCreate)
		pub.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(s.unlockLimiter)).
			HandleFunc("POST /create/unlock", s.handleUnlock)
		pub.With(s.csrfProtection.Handler).HandleFunc("POST /create/logout", s.handleLogout)
	})

	// HTMX endpoints
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache, s.csrfProtection.Handler)
		api.With(rest.SizeLimit(formMaxSize)).HandleFunc("POST /theme", s.handleThemeToggle)

		// upload size is checked by the handler, the body is streamed to the engine
		api.With(s.requireAdmin).HandleFunc("POST /upload", s.handleUpload)

		admin := api.With(s.requireAdmin, rest.SizeLimit(formMaxSize))
		admin.HandleFunc("POST /engine", s.handleEngineConnect)
		admin.HandleFunc("POST /reprocess", s.handleReprocess)
		admin.HandleFunc("GET /run", s.handleRunPartial)
		admin.HandleFunc("POST /reset", s.handleReset)
		admin.HandleFunc("GET /library", s.handleLibrary)
		admin.HandleFunc("GET /history", s.handleHistory)
	})

	// JSON API for programmatic access
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache, s.requireAdmin)
		api.HandleFunc("GET /session", s.handleAPISession)
		api.HandleFunc("GET /run", s.handleAPIRun)
		api.HandleFunc("GET /history", s.handleAPIHistory)
	})

	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, status int, page, tmplName string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, tmplName, data); err != nil {
		log.Printf("[WARN] failed to execute template %s: %v", tmplName, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses page templates, each page gets the base layout and all partials
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	funcMap := template.FuncMap{
		"add1":      func(i int) int { return i + 1 },
		"humanSize": humanSize,
		"humanTime": humanTime,
		"phase":     phaseLabel,
		"score":     formatScore,
		"upper":     strings.ToUpper,
	}

	for _, page := range []string{"landing", "lock", "dashboard"} {
		tmpl, err := template.New(page).Funcs(funcMap).ParseFS(templatesFS,
			"templates/base.html", "templates/"+page+".html", "templates/partials/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", page, err)
		}
		templates[page] = tmpl
	}

	partials, err := template.New("partials").Funcs(funcMap).ParseFS(templatesFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}
	templates["partials"] = partials

	return templates, nil
}

// template helper functions

func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("Jan 2, 15:04")
}

func formatScore(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
