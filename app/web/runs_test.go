package web

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
	"github.com/agenclip/agenclip/app/session"
	"github.com/agenclip/agenclip/app/web/persistence"
)

type notifyRecorder struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *notifyRecorder) RunCompleted(_ context.Context, filename string, _ []engine.ClipResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, filename)
}

func (n *notifyRecorder) RunFailed(_ context.Context, filename, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, filename+": "+errMsg)
}

func (n *notifyRecorder) counts() (completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

// progressRecorder wraps the store and records every saved progress value
type progressRecorder struct {
	*persistence.SQLiteStore
	mu       sync.Mutex
	progress []int
}

func (p *progressRecorder) SaveRun(run persistence.RunInfo) error {
	p.mu.Lock()
	p.progress = append(p.progress, run.Progress)
	p.mu.Unlock()
	return p.SQLiteStore.SaveRun(run)
}

func newTestRunner(t *testing.T, eng EngineClient, store RunStore, notifier Notifier) (*Runner, *session.Manager, *persistence.SQLiteStore) {
	t.Helper()
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	if store == nil {
		store = db
	}
	if pr, ok := store.(*progressRecorder); ok {
		pr.SQLiteStore = db
	}

	sessions := session.NewManager(db, session.Params{})
	p := RunnerParams{Engine: eng, Store: store, Results: sessions, PollInterval: 5 * time.Millisecond}
	if notifier != nil {
		p.Notifier = notifier
	}
	r := NewRunner(p)
	r.Resume(t.Context())
	t.Cleanup(r.Wait)
	return r, sessions, db
}

func waitScreen(t *testing.T, r *Runner, sid string, screen enums.Screen) persistence.RunInfo {
	t.Helper()
	var run persistence.RunInfo
	require.Eventually(t, func() bool {
		var err error
		run, err = r.Current(sid)
		return err == nil && run.Screen == screen && !r.InProgress(sid)
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestRunner_Submit(t *testing.T) {
	eng := &fakeEngine{jobs: []engine.Job{
		{Status: enums.JobStatusQueued},
		{Status: enums.JobStatusRendering},
		{Status: enums.JobStatusTranscribing}, // out of order, progress doesn't go back
		{Status: enums.JobStatusCompleted, Results: []engine.ClipResult{{URL: "http://e/c1.mp4", Title: "Clip 1", Score: 91}}},
	}}
	recorder := &progressRecorder{}
	notifier := &notifyRecorder{}
	r, sessions, db := newTestRunner(t, eng, recorder, notifier)

	run, err := r.Submit(context.Background(), "sid-1", "http://e", "/tmp/uploads/podcast.mp4", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", run.JobID)
	assert.Equal(t, "podcast.mp4", run.Filename)
	assert.Equal(t, enums.ProgressAccepted, run.Progress)
	assert.Equal(t, enums.ScreenProcessing, run.Screen)

	run = waitScreen(t, r, "sid-1", enums.ScreenCompleted)
	assert.Equal(t, enums.JobStatusCompleted, run.Status)
	assert.Equal(t, 100, run.Progress)

	recorder.mu.Lock()
	assert.Equal(t, []int{5, 20, 20, 85, 85, 100}, recorder.progress)
	recorder.mu.Unlock()

	st, err := sessions.Load("sid-1", "")
	require.NoError(t, err)
	require.Len(t, st.LastResults, 1)
	assert.Equal(t, "Clip 1", st.LastResults[0].Title)

	hist, err := db.History("sid-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, enums.JobStatusCompleted, hist[0].Status)
	assert.Equal(t, 1, hist[0].Clips)

	completed, failed := notifier.counts()
	assert.Equal(t, 1, completed)
	assert.Zero(t, failed)
}

func TestRunner_SubmitRejected(t *testing.T) {
	eng := &fakeEngine{submitErr: &engine.TransportError{Op: "upload", URL: "http://e/upload", Err: errors.New("connection refused")}}
	notifier := &notifyRecorder{}
	r, _, _ := newTestRunner(t, eng, nil, notifier)

	run, err := r.Submit(context.Background(), "sid-1", "http://e", "a.mp4", strings.NewReader("data"))
	require.Error(t, err)
	assert.Equal(t, enums.ScreenFailed, run.Screen)
	assert.Equal(t, "engine upload request failed", run.Error)
	assert.False(t, r.InProgress("sid-1"))

	cur, err := r.Current("sid-1")
	require.NoError(t, err)
	assert.Equal(t, enums.ScreenFailed, cur.Screen)
	assert.Zero(t, eng.pollCount())

	_, failed := notifier.counts()
	assert.Equal(t, 1, failed)
}

func TestRunner_OneRunPerSession(t *testing.T) {
	eng := &fakeEngine{}
	r, _, _ := newTestRunner(t, eng, nil, nil)

	_, err := r.Submit(context.Background(), "sid-1", "http://e", "a.mp4", strings.NewReader("a"))
	require.NoError(t, err)
	assert.True(t, r.InProgress("sid-1"))

	_, err = r.Reprocess(context.Background(), "sid-1", "http://e", "b.mp4")
	require.ErrorIs(t, err, ErrRunInProgress)

	_, err = r.Reprocess(context.Background(), "sid-2", "http://e", "b.mp4")
	require.NoError(t, err, "other sessions are independent")
	assert.True(t, r.InProgress("sid-2"))
}

func TestRunner_Reset(t *testing.T) {
	eng := &fakeEngine{}
	r, sessions, _ := newTestRunner(t, eng, nil, nil)
	require.NoError(t, sessions.SaveResults("sid-1", []engine.ClipResult{{URL: "http://e/old.mp4", Title: "old"}}))

	_, err := r.Submit(context.Background(), "sid-1", "http://e", "a.mp4", strings.NewReader("a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return eng.pollCount() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Reset("sid-1"))
	assert.False(t, r.InProgress("sid-1"))

	polls := eng.pollCount()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, eng.pollCount(), polls+1, "tracker stopped")

	run, err := r.Current("sid-1")
	require.NoError(t, err)
	assert.Equal(t, enums.ScreenIdle, run.Screen, "late tracker updates don't bring the run back")

	st, err := sessions.Load("sid-1", "")
	require.NoError(t, err)
	assert.Empty(t, st.LastResults)
}

func TestRunner_Resume(t *testing.T) {
	eng := &fakeEngine{jobs: []engine.Job{
		{Status: enums.JobStatusCompleted, Results: []engine.ClipResult{{URL: "http://e/c1.mp4", Title: "Clip 1", Score: 91}}},
	}}
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	// run left behind by a previous process
	require.NoError(t, db.SaveRun(persistence.RunInfo{SessionID: "sid-1", JobID: "job-9", BaseURL: "http://e",
		Filename: "a.mp4", Status: enums.JobStatusAnalyzing, Screen: enums.ScreenProcessing, Progress: 60,
		StartedAt: time.Now().Add(-time.Minute)}))

	sessions := session.NewManager(db, session.Params{})
	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: sessions, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	r.Resume(ctx)

	run := waitScreen(t, r, "sid-1", enums.ScreenCompleted)
	assert.Equal(t, "job-9", run.JobID)
	assert.Equal(t, 1, eng.pollCount(), "terminal job finished on the first check")

	st, err := sessions.Load("sid-1", "")
	require.NoError(t, err)
	require.Len(t, st.LastResults, 1)

	runs, err := db.ActiveRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunner_ResumeUnfinished(t *testing.T) {
	eng := &fakeEngine{pollErr: errors.New("engine is down")}
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.SaveRun(persistence.RunInfo{SessionID: "sid-1", JobID: "job-9", BaseURL: "http://e",
		Filename: "a.mp4", Status: enums.JobStatusQueued, Screen: enums.ScreenProcessing, Progress: 20}))

	sessions := session.NewManager(db, session.Params{})
	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: sessions, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	r.Resume(ctx)

	assert.True(t, r.InProgress("sid-1"), "engine errors keep tracking")
	require.Eventually(t, func() bool { return eng.pollCount() > 2 }, time.Second, 5*time.Millisecond)

	cancel()
	r.Wait()
	run, err := r.Current("sid-1")
	require.NoError(t, err)
	assert.Equal(t, enums.ScreenProcessing, run.Screen, "shutdown leaves the run for the next start")
}

func TestRunner_MaxWait(t *testing.T) {
	eng := &fakeEngine{}
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: session.NewManager(db, session.Params{}),
		PollInterval: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond})
	r.Resume(t.Context())
	defer r.Wait()

	_, err = r.Submit(context.Background(), "sid-1", "http://e", "a.mp4", strings.NewReader("a"))
	require.NoError(t, err)
	run := waitScreen(t, r, "sid-1", enums.ScreenFailed)
	assert.Equal(t, "timed out waiting for engine", run.Error)
}

// stallingEngine never answers uploads, Submit returns only when its context ends
type stallingEngine struct {
	fakeEngine
	started chan struct{}
}

func (s *stallingEngine) Submit(ctx context.Context, _, _ string, _ io.Reader) (string, error) {
	close(s.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunner_ShutdownDuringSubmit(t *testing.T) {
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	eng := &stallingEngine{started: make(chan struct{})}
	sessions := session.NewManager(db, session.Params{})
	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: sessions, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	r.Resume(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), "sid-1", "http://e", "a.mp4", strings.NewReader("a"))
		errCh <- err
	}()
	<-eng.started
	cancel()

	select {
	case err = <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit not stopped by shutdown")
	}
	r.Wait()

	// next start finds nothing to resume and the session can start over
	restarted := NewRunner(RunnerParams{Engine: &fakeEngine{}, Store: db, Results: sessions, PollInterval: 5 * time.Millisecond})
	restarted.Resume(t.Context())
	defer restarted.Wait()

	run, err := restarted.Current("sid-1")
	require.NoError(t, err)
	assert.Equal(t, enums.ScreenFailed, run.Screen)
	assert.Equal(t, errInterrupted, run.Error)
	assert.False(t, restarted.InProgress("sid-1"))

	require.NoError(t, restarted.Reset("sid-1"))
	run, err = restarted.Current("sid-1")
	require.NoError(t, err)
	assert.Equal(t, enums.ScreenIdle, run.Screen)
}

func TestRunner_ResumeWithoutJobID(t *testing.T) {
	eng := &fakeEngine{}
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	// process killed while the upload was still going
	require.NoError(t, db.SaveRun(persistence.RunInfo{SessionID: "sid-1", BaseURL: "http://e", Filename: "a.mp4",
		Status: enums.JobStatusQueued, Screen: enums.ScreenProcessing, Progress: enums.ProgressSubmitted}))

	notifier := &notifyRecorder{}
	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: session.NewManager(db, session.Params{}),
		Notifier: notifier, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	r.Resume(ctx)

	run := waitScreen(t, r, "sid-1", enums.ScreenFailed)
	assert.Equal(t, errInterrupted, run.Error)
	assert.Zero(t, eng.pollCount(), "nothing to ask the engine about")

	hist, err := db.History("sid-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, enums.JobStatusFailed, hist[0].Status)
	_, failed := notifier.counts()
	assert.Equal(t, 1, failed)

	runs, err := db.ActiveRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunner_ResumeMaxWaitFromStart(t *testing.T) {
	eng := &fakeEngine{} // queued forever
	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.SaveRun(persistence.RunInfo{SessionID: "sid-1", JobID: "job-9", BaseURL: "http://e",
		Filename: "a.mp4", Status: enums.JobStatusQueued, Screen: enums.ScreenProcessing, Progress: 20,
		StartedAt: time.Now().Add(-time.Hour)}))

	r := NewRunner(RunnerParams{Engine: eng, Store: db, Results: session.NewManager(db, session.Params{}),
		PollInterval: time.Hour, MaxWait: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	r.Resume(ctx)

	run := waitScreen(t, r, "sid-1", enums.ScreenFailed)
	assert.Equal(t, "timed out waiting for engine", run.Error, "restart doesn't extend the wait")
	assert.Equal(t, 1, eng.pollCount(), "only the check on resume")
}

func TestCoarseError(t *testing.T) {
	assert.Equal(t, "engine status request failed with status 500",
		coarseError(&engine.TransportError{Op: "status", Status: 500}))
	assert.Equal(t, "engine reprocess request failed",
		coarseError(&engine.TransportError{Op: "reprocess", Err: errors.New("timeout")}))
	assert.Equal(t, "engine request failed", coarseError(errors.New("boom")))
}
