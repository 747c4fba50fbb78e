package persistence

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
)

// ErrNotFound is returned when the requested record doesn't exist
var ErrNotFound = errors.New("not found")

// SessionInfo is a persisted browser session
type SessionInfo struct {
	ID          string
	BackendURL  string
	Theme       enums.Theme
	LastResults []engine.ClipResult
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunInfo is the current run of a session, at most one per session
type RunInfo struct {
	SessionID string
	JobID     string // empty until the engine accepted the upload
	BaseURL   string // engine the job was submitted to
	Filename  string
	Status    enums.JobStatus
	Screen    enums.Screen
	Progress  int
	Error     string
	StartedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is a finished run
type HistoryEntry struct {
	ID         int
	SessionID  string
	JobID      string
	Filename   string
	Status     enums.JobStatus
	Clips      int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Clips is a list of clip results stored as a json column
type Clips []engine.ClipResult

// Value implements driver.Valuer
func (c Clips) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "", nil
	}
	data, err := json.Marshal([]engine.ClipResult(c))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clips: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (c *Clips) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type %T for clips", value)
	}
	if len(data) == 0 {
		*c = nil
		return nil
	}
	var res []engine.ClipResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("failed to unmarshal clips: %w", err)
	}
	*c = res
	return nil
}

type sessionRow struct {
	ID          string      `db:"id"`
	BackendURL  string      `db:"backend_url"`
	Theme       enums.Theme `db:"theme"`
	LastResults Clips       `db:"last_results"`
	CreatedAt   int64       `db:"created_at"`
	UpdatedAt   int64       `db:"updated_at"`
}

type runRow struct {
	SessionID string          `db:"session_id"`
	JobID     string          `db:"job_id"`
	BaseURL   string          `db:"base_url"`
	Filename  string          `db:"filename"`
	Status    enums.JobStatus `db:"status"`
	Screen    enums.Screen    `db:"screen"`
	Progress  int             `db:"progress"`
	Error     string          `db:"error"`
	StartedAt int64           `db:"started_at"`
	UpdatedAt int64           `db:"updated_at"`
}

type historyRow struct {
	ID         int             `db:"id"`
	SessionID  string          `db:"session_id"`
	JobID      string          `db:"job_id"`
	Filename   string          `db:"filename"`
	Status     enums.JobStatus `db:"status"`
	Clips      int             `db:"clips"`
	Error      string          `db:"error"`
	StartedAt  int64           `db:"started_at"`
	FinishedAt int64           `db:"finished_at"`
}

// SQLiteStore implements persistence using SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and initializes the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single connection, sqlite serializes writes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initialize creates the database schema
func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			backend_url TEXT NOT NULL DEFAULT '',
			theme TEXT NOT NULL DEFAULT 'dark',
			last_results TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			session_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			screen TEXT NOT NULL DEFAULT 'idle',
			progress INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			clips INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_session_id ON history(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// GetSession returns the session by id, ErrNotFound if it was never saved
func (s *SQLiteStore) GetSession(id string) (SessionInfo, error) {
	var row sessionRow
	err := s.db.Get(&row, `SELECT id, backend_url, theme, last_results, created_at, updated_at FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, ErrNotFound
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return SessionInfo{
		ID:          row.ID,
		BackendURL:  row.BackendURL,
		Theme:       row.Theme,
		LastResults: row.LastResults,
		CreatedAt:   time.Unix(row.CreatedAt, 0),
		UpdatedAt:   time.Unix(row.UpdatedAt, 0),
	}, nil
}

// SetBackendURL persists the engine url of the session, creating the session if needed
func (s *SQLiteStore) SetBackendURL(id, backendURL string) error {
	return s.upsertSession(id, "backend_url", backendURL)
}

// SetTheme persists the theme of the session, creating the session if needed
func (s *SQLiteStore) SetTheme(id string, theme enums.Theme) error {
	if theme == (enums.Theme{}) {
		theme = enums.ThemeDark
	}
	return s.upsertSession(id, "theme", theme)
}

// SetResults persists the last results of the session, empty list clears them
func (s *SQLiteStore) SetResults(id string, results []engine.ClipResult) error {
	return s.upsertSession(id, "last_results", Clips(results))
}

// upsertSession sets a single column, other columns are kept as is.
// column is never a user input.
func (s *SQLiteStore) upsertSession(id, column string, value any) error {
	now := time.Now().Unix()
	query := fmt.Sprintf(`INSERT INTO sessions (id, %[1]s, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, column)
	if _, err := s.db.Exec(query, id, value, now, now); err != nil {
		return fmt.Errorf("failed to save %s for session %s: %w", column, id, err)
	}
	return nil
}

// GetRun returns the current run of the session, ErrNotFound if there is none
func (s *SQLiteStore) GetRun(sessionID string) (RunInfo, error) {
	var row runRow
	err := s.db.Get(&row, `SELECT session_id, job_id, base_url, filename, status, screen, progress, error, started_at, updated_at
		FROM runs WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrNotFound
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to get run for session %s: %w", sessionID, err)
	}
	return row.info(), nil
}

// SaveRun creates or replaces the run of the session
func (s *SQLiteStore) SaveRun(run RunInfo) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == (enums.JobStatus{}) {
		run.Status = enums.JobStatusUnknown
	}
	if run.Screen == (enums.Screen{}) {
		run.Screen = enums.ScreenIdle
	}
	row := runRow{
		SessionID: run.SessionID,
		JobID:     run.JobID,
		BaseURL:   run.BaseURL,
		Filename:  run.Filename,
		Status:    run.Status,
		Screen:    run.Screen,
		Progress:  run.Progress,
		Error:     run.Error,
		StartedAt: run.StartedAt.Unix(),
		UpdatedAt: time.Now().Unix(),
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO runs
		(session_id, job_id, base_url, filename, status, screen, progress, error, started_at, updated_at)
		VALUES (:session_id, :job_id, :base_url, :filename, :status, :screen, :progress, :error, :started_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to save run for session %s: %w", run.SessionID, err)
	}
	return nil
}

// DeleteRun removes the run of the session, no error if there is none
func (s *SQLiteStore) DeleteRun(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM runs WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete run for session %s: %w", sessionID, err)
	}
	return nil
}

// ActiveRuns returns runs still in processing, i.e. interrupted by a restart.
// Runs without job id were interrupted before the engine accepted them.
func (s *SQLiteStore) ActiveRuns() ([]RunInfo, error) {
	rows := []runRow{}
	err := s.db.Select(&rows, `SELECT session_id, job_id, base_url, filename, status, screen, progress, error, started_at, updated_at
		FROM runs WHERE screen = ? ORDER BY started_at`, enums.ScreenProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to select active runs: %w", err)
	}
	res := make([]RunInfo, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.info())
	}
	return res, nil
}

// AddHistory records a finished run
func (s *SQLiteStore) AddHistory(entry HistoryEntry) error {
	if entry.Status == (enums.JobStatus{}) {
		entry.Status = enums.JobStatusUnknown
	}
	row := historyRow{
		SessionID:  entry.SessionID,
		JobID:      entry.JobID,
		Filename:   entry.Filename,
		Status:     entry.Status,
		Clips:      entry.Clips,
		Error:      entry.Error,
		StartedAt:  entry.StartedAt.Unix(),
		FinishedAt: entry.FinishedAt.Unix(),
	}
	_, err := s.db.NamedExec(`INSERT INTO history (session_id, job_id, filename, status, clips, error, started_at, finished_at)
		VALUES (:session_id, :job_id, :filename, :status, :clips, :error, :started_at, :finished_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to add history for session %s: %w", entry.SessionID, err)
	}
	return nil
}

// History returns finished runs of the session, newest first
func (s *SQLiteStore) History(sessionID string, limit int) ([]HistoryEntry, error) {
	rows := []historyRow{}
	err := s.db.Select(&rows, `SELECT id, session_id, job_id, filename, status, clips, error, started_at, finished_at
		FROM history WHERE session_id = ? ORDER BY finished_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select history for session %s: %w", sessionID, err)
	}
	res := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		res = append(res, HistoryEntry{
			ID:         r.ID,
			SessionID:  r.SessionID,
			JobID:      r.JobID,
			Filename:   r.Filename,
			Status:     r.Status,
			Clips:      r.Clips,
			Error:      r.Error,
			StartedAt:  time.Unix(r.StartedAt, 0),
			FinishedAt: time.Unix(r.FinishedAt, 0),
		})
	}
	return res, nil
}

// Cleanup removes sessions without activity since the cutoff, together with their runs and history.
// Activity is any session write, run update or finished run. Sessions with a run still in processing
// are kept. Returns the number of removed sessions.
func (s *SQLiteStore) Cleanup(cutoff time.Time) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	ts := cutoff.Unix()
	res, err := tx.Exec(`DELETE FROM sessions WHERE updated_at < ?
		AND id NOT IN (SELECT session_id FROM runs WHERE screen = ? OR updated_at >= ?)
		AND id NOT IN (SELECT session_id FROM history WHERE finished_at >= ?)`, ts, enums.ScreenProcessing, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM runs WHERE updated_at < ? AND screen != ?
		AND session_id NOT IN (SELECT id FROM sessions)`, ts, enums.ScreenProcessing); err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM history WHERE finished_at < ?
		AND session_id NOT IN (SELECT id FROM sessions)`, ts); err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r runRow) info() RunInfo {
	return RunInfo{
		SessionID: r.SessionID,
		JobID:     r.JobID,
		BaseURL:   r.BaseURL,
		Filename:  r.Filename,
		Status:    r.Status,
		Screen:    r.Screen,
		Progress:  r.Progress,
		Error:     r.Error,
		StartedAt: time.Unix(r.StartedAt, 0),
		UpdatedAt: time.Unix(r.UpdatedAt, 0),
	}
}
