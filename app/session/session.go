// Package session keeps per-browser state of the dashboard: engine url, theme, last results and
// the admin unlock. Persistent fields go to an injected Store, admin tokens live in memory only
// so a restart locks every dashboard.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
	"github.com/agenclip/agenclip/app/web/persistence"
)

var (
	// ErrAuth is returned for a wrong admin PIN
	ErrAuth = errors.New("invalid pin")
	// ErrBadURL is returned for an engine url without http(s) scheme or host
	ErrBadURL = errors.New("invalid engine url")
)

// Store persists session fields, implemented by persistence.SQLiteStore
type Store interface {
	GetSession(id string) (persistence.SessionInfo, error)
	SetBackendURL(id, backendURL string) error
	SetTheme(id string, theme enums.Theme) error
	SetResults(id string, results []engine.ClipResult) error
}

// State is the session as seen by the dashboard
type State struct {
	ID            string              `json:"id"`
	BackendURL    string              `json:"backend_url"`
	Theme         enums.Theme         `json:"theme"`
	LastResults   []engine.ClipResult `json:"last_results"`
	AdminUnlocked bool                `json:"admin_unlocked"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Connected reports whether the session has an engine to talk to
func (s State) Connected() bool { return s.BackendURL != "" }

// Params configures the Manager
type Params struct {
	PinHash           string        // bcrypt hash of the admin PIN, empty locks the dashboard for everyone
	DefaultBackendURL string        // used when the session didn't set its own
	LoginTTL          time.Duration // admin token lifetime, 24h if not set
}

// Manager loads and mutates sessions
type Manager struct {
	store      Store
	pinHash    []byte
	defaultURL string
	loginTTL   time.Duration

	tokens   cache.Cache[string, string] // token -> session id
	unlocked cache.Cache[string, string] // session id -> token
}

// NewManager makes a Manager on top of the store
func NewManager(store Store, params Params) *Manager {
	res := &Manager{
		store:      store,
		pinHash:    []byte(params.PinHash),
		defaultURL: strings.TrimSuffix(strings.TrimSpace(params.DefaultBackendURL), "/"),
		loginTTL:   params.LoginTTL,
	}
	if res.loginTTL <= 0 {
		res.loginTTL = 24 * time.Hour
	}
	res.tokens = cache.NewCache[string, string]().WithTTL(res.loginTTL)
	res.unlocked = cache.NewCache[string, string]().WithTTL(res.loginTTL)
	if len(res.pinHash) == 0 {
		log.Printf("[WARN] admin pin hash is not set, dashboard can't be unlocked")
	}
	return res
}

// Load returns the session with defaults for everything not persisted yet.
// adminToken is the value of the admin cookie, may be empty.
func (m *Manager) Load(sessionID, adminToken string) (State, error) {
	res := State{ID: sessionID, Theme: enums.ThemeDark, BackendURL: m.defaultURL, LastResults: []engine.ClipResult{}}
	res.AdminUnlocked = m.IsAdmin(sessionID, adminToken)

	info, err := m.store.GetSession(sessionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if info.BackendURL != "" {
		res.BackendURL = info.BackendURL
	}
	if info.Theme == enums.ThemeLight {
		res.Theme = enums.ThemeLight
	}
	if len(info.LastResults) > 0 {
		res.LastResults = info.LastResults
	}
	res.UpdatedAt = info.UpdatedAt
	return res, nil
}

// SaveBackendURL normalizes and persists the engine url, returns the stored value.
// Empty url resets the session to the default engine.
func (m *Manager) SaveBackendURL(sessionID, rawURL string) (string, error) {
	clean, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	if err := m.store.SetBackendURL(sessionID, clean); err != nil {
		return "", fmt.Errorf("failed to save engine url: %w", err)
	}
	if clean == "" {
		return m.defaultURL, nil
	}
	return clean, nil
}

// SaveResults persists the results of the last completed job
func (m *Manager) SaveResults(sessionID string, results []engine.ClipResult) error {
	if err := m.store.SetResults(sessionID, results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// ClearResults erases the persisted results
func (m *Manager) ClearResults(sessionID string) error {
	if err := m.store.SetResults(sessionID, nil); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}
	return nil
}

// SetTheme persists the theme
func (m *Manager) SetTheme(sessionID string, theme enums.Theme) error {
	if err := m.store.SetTheme(sessionID, theme); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	return nil
}

// UnlockAdmin checks the PIN and returns the admin token bound to the session.
// A session already unlocked gets its existing token back, so repeated unlocks don't pile up tokens.
func (m *Manager) UnlockAdmin(sessionID, pin string) (string, error) {
	if len(m.pinHash) == 0 || pin == "" {
		return "", ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword(m.pinHash, []byte(pin)); err != nil {
		return "", ErrAuth
	}

	if token, ok := m.unlocked.Get(sessionID); ok && m.IsAdmin(sessionID, token) {
		return token, nil
	}
	token := uuid.NewString()
	m.tokens.Set(token, sessionID, 0)
	m.unlocked.Set(sessionID, token, 0)
	log.Printf("[INFO] dashboard unlocked for session %s", shortID(sessionID))
	return token, nil
}

// IsAdmin reports whether the token is valid and belongs to the session
func (m *Manager) IsAdmin(sessionID, token string) bool {
	if token == "" {
		return false
	}
	owner, ok := m.tokens.Get(token)
	return ok && owner == sessionID
}

// LockAdmin forgets the token
func (m *Manager) LockAdmin(token string) {
	if owner, ok := m.tokens.Peek(token); ok {
		m.unlocked.Invalidate(owner)
	}
	m.tokens.Invalidate(token)
}

// DropExpired removes expired admin tokens, returns how many were removed.
// Expired tokens are rejected anyway, this only frees the memory.
func (m *Manager) DropExpired() int {
	before := m.tokens.Len()
	m.tokens.DeleteExpired()
	m.unlocked.DeleteExpired()
	return before - m.tokens.Len()
}

// NormalizeURL trims spaces and a single trailing slash and checks the url is http(s) with a host.
// Empty input is allowed and stays empty.
func NormalizeURL(rawURL string) (string, error) {
	clean := strings.TrimSpace(rawURL)
	if clean == "" {
		return "", nil
	}
	clean = strings.TrimSuffix(clean, "/")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrBadURL, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w %q", ErrBadURL, rawURL)
	}
	return clean, nil
}

// shortID cuts the session id for logs
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
