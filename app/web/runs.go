package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/enums"
	"github.com/agenclip/agenclip/app/web/persistence"
)

// ErrRunInProgress is returned when the session already has a run waiting for the engine
var ErrRunInProgress = errors.New("run already in progress")

// errInterrupted is the error of a run stopped before the engine returned a job id
const errInterrupted = "interrupted before the engine accepted the job"

// EngineClient talks to the clipping engine, implemented by engine.Client
type EngineClient interface {
	engine.StatusSource
	Submit(ctx context.Context, baseURL, filename string, r io.Reader) (string, error)
	Reprocess(ctx context.Context, baseURL, filename string) (string, error)
	Library(ctx context.Context, baseURL string) ([]engine.VideoFile, error)
}

// RunStore keeps runs and their history
type RunStore interface {
	GetRun(sessionID string) (persistence.RunInfo, error)
	SaveRun(run persistence.RunInfo) error
	DeleteRun(sessionID string) error
	ActiveRuns() ([]persistence.RunInfo, error)
	AddHistory(entry persistence.HistoryEntry) error
}

// ResultsKeeper persists results of the last completed run, implemented by session.Manager
type ResultsKeeper interface {
	SaveResults(sessionID string, results []engine.ClipResult) error
	ClearResults(sessionID string) error
}

// Notifier reports finished runs, implemented by notify.Service
type Notifier interface {
	RunCompleted(ctx context.Context, filename string, clips []engine.ClipResult)
	RunFailed(ctx context.Context, filename, errMsg string)
}

// Runner starts runs on the engine and tracks them until completion, one run per session.
// Run state is persisted on every change, so the page shows it after reload and
// runs interrupted by restart are picked up by Resume.
type Runner struct {
	engine   EngineClient
	poller   *engine.Poller
	store    RunStore
	results  ResultsKeeper
	notifier Notifier
	resumeN  int

	mu      sync.Mutex
	baseCtx context.Context
	active  map[string]*activeRun // session id -> run waiting for the engine
	wg      sync.WaitGroup
}

// activeRun guards writes of a single run, stopped is set on reset so late callbacks can't resurrect it
type activeRun struct {
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
}

// RunnerParams configures the Runner
type RunnerParams struct {
	Engine       EngineClient
	Store        RunStore
	Results      ResultsKeeper
	Notifier     Notifier      // optional
	PollInterval time.Duration // 3s if not set
	MaxWait      time.Duration // 0 waits forever
	ResumeConcur int           // concurrent status checks on resume, 4 if not set
}

// NewRunner makes a Runner
func NewRunner(p RunnerParams) *Runner {
	res := &Runner{
		engine:   p.Engine,
		poller:   &engine.Poller{Source: p.Engine, Interval: p.PollInterval, MaxWait: p.MaxWait},
		store:    p.Store,
		results:  p.Results,
		notifier: p.Notifier,
		resumeN:  p.ResumeConcur,
		baseCtx:  context.Background(),
		active:   make(map[string]*activeRun),
	}
	if res.resumeN <= 0 {
		res.resumeN = 4
	}
	return res
}

// Submit uploads the file to the engine and starts tracking the job
func (r *Runner) Submit(ctx context.Context, sessionID, baseURL, filename string, body io.Reader) (persistence.RunInfo, error) {
	return r.start(ctx, sessionID, baseURL, filename, func(ctx context.Context) (string, error) {
		return r.engine.Submit(ctx, baseURL, filename, body)
	})
}

// Reprocess asks the engine to process a file from its library again and starts tracking the job
func (r *Runner) Reprocess(ctx context.Context, sessionID, baseURL, filename string) (persistence.RunInfo, error) {
	return r.start(ctx, sessionID, baseURL, filename, func(ctx context.Context) (string, error) {
		return r.engine.Reprocess(ctx, baseURL, filename)
	})
}

// start registers the run, calls the engine and spawns the tracker.
// Engine errors move the run to failed right away and are returned together with the failed run.
func (r *Runner) start(ctx context.Context, sessionID, baseURL, filename string,
	call func(ctx context.Context) (string, error)) (persistence.RunInfo, error) {

	r.mu.Lock()
	if _, busy := r.active[sessionID]; busy {
		r.mu.Unlock()
		return persistence.RunInfo{}, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(r.baseCtx)
	ar := &activeRun{cancel: cancel}
	r.active[sessionID] = ar
	r.mu.Unlock()

	run := persistence.RunInfo{
		SessionID: sessionID,
		BaseURL:   baseURL,
		Filename:  path.Base(filename),
		Status:    enums.JobStatusQueued,
		Screen:    enums.ScreenProcessing,
		Progress:  enums.ProgressSubmitted,
		StartedAt: time.Now(),
	}
	r.persist(ar, run)

	// the call is canceled by the request or by reset, whichever comes first
	callCtx, callCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, callCancel)
	jobID, err := call(callCtx)
	stop()
	callCancel()

	if err != nil {
		if runCtx.Err() != nil {
			// reset already dropped the run and finish won't write it, shutdown leaves it failed
			cause := runCtx.Err()
			run = r.finish(context.WithoutCancel(runCtx), ar, run, engine.Job{Status: enums.JobStatusFailed, Error: errInterrupted})
			r.release(sessionID, ar)
			return run, fmt.Errorf("run for %s canceled: %w", run.Filename, cause)
		}
		log.Printf("[WARN] engine rejected %s for session %s, %v", run.Filename, shortID(sessionID), err)
		run = r.finish(runCtx, ar, run, engine.Job{Status: enums.JobStatusFailed, Error: coarseError(err)})
		r.release(sessionID, ar)
		return run, err
	}

	run.JobID = jobID
	run.Progress = enums.ProgressAccepted
	r.persist(ar, run)
	log.Printf("[INFO] job %s started for %s, session %s", jobID, run.Filename, shortID(sessionID))

	r.wg.Add(1)
	go r.track(runCtx, ar, run)
	return run, nil
}

// track polls the engine until the job is done, runs in its own goroutine
func (r *Runner) track(ctx context.Context, ar *activeRun, run persistence.RunInfo) {
	defer r.wg.Done()
	defer r.release(run.SessionID, ar)

	onUpdate := func(job engine.Job) {
		if job.Status.IsTerminal() {
			return // handled by onTerminal
		}
		run.Status = job.Status
		run.Progress = max(run.Progress, job.Status.Progress())
		r.persist(ar, run)
	}
	onTerminal := func(job engine.Job) {
		run = r.finish(ctx, ar, run, job)
	}
	r.poller.TrackSince(ctx, run.StartedAt, run.BaseURL, run.JobID, onUpdate, onTerminal)
}

// finish moves the run to completed or failed, records history and sends notification
func (r *Runner) finish(ctx context.Context, ar *activeRun, run persistence.RunInfo, job engine.Job) persistence.RunInfo {
	run.Status = job.Status
	switch job.Status {
	case enums.JobStatusCompleted:
		run.Screen = enums.ScreenCompleted
		run.Progress = 100
		run.Error = ""
	default:
		run.Screen = enums.ScreenFailed
		run.Status = enums.JobStatusFailed
		run.Error = job.Error
	}

	written := r.persistWith(ar, run, func() {
		if run.Screen == enums.ScreenCompleted {
			if err := r.results.SaveResults(run.SessionID, job.Results); err != nil {
				log.Printf("[ERROR] can't save results for session %s, %v", shortID(run.SessionID), err)
			}
		}
	})
	if !written {
		return run
	}

	entry := persistence.HistoryEntry{
		SessionID:  run.SessionID,
		JobID:      run.JobID,
		Filename:   run.Filename,
		Status:     run.Status,
		Clips:      len(job.Results),
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: time.Now(),
	}
	if err := r.store.AddHistory(entry); err != nil {
		log.Printf("[WARN] can't add history for job %s, %v", run.JobID, err)
	}

	if run.Screen == enums.ScreenCompleted {
		log.Printf("[INFO] job %s completed, %d clips for %s", run.JobID, len(job.Results), run.Filename)
		if r.notifier != nil {
			r.notifier.RunCompleted(ctx, run.Filename, job.Results)
		}
		return run
	}
	log.Printf("[INFO] job %s failed for %s, %s", run.JobID, run.Filename, run.Error)
	if r.notifier != nil {
		r.notifier.RunFailed(ctx, run.Filename, run.Error)
	}
	return run
}

// persist saves the run unless it was reset
func (r *Runner) persist(ar *activeRun, run persistence.RunInfo) bool {
	return r.persistWith(ar, run, nil)
}

// persistWith saves the run and calls fn under the run lock, does nothing for a reset run
func (r *Runner) persistWith(ar *activeRun, run persistence.RunInfo, fn func()) bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.stopped {
		return false
	}
	if fn != nil {
		fn()
	}
	if err := r.store.SaveRun(run); err != nil {
		log.Printf("[ERROR] can't save run for session %s, %v", shortID(run.SessionID), err)
	}
	return true
}

// release forgets the active run if it is still the current one for the session
func (r *Runner) release(sessionID string, ar *activeRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[sessionID]; ok && cur == ar {
		delete(r.active, sessionID)
	}
	ar.cancel()
}

// Current returns the run of the session, idle run if there is none
func (r *Runner) Current(sessionID string) (persistence.RunInfo, error) {
	run, err := r.store.GetRun(sessionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.RunInfo{SessionID: sessionID, Screen: enums.ScreenIdle, Status: enums.JobStatusUnknown}, nil
	}
	if err != nil {
		return persistence.RunInfo{SessionID: sessionID, Screen: enums.ScreenIdle}, fmt.Errorf("can't get run: %w", err)
	}
	return run, nil
}

// InProgress reports whether the session has a run waiting for the engine
func (r *Runner) InProgress(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Reset stops tracking, drops the run and clears the results of the session
func (r *Runner) Reset(sessionID string) error {
	r.mu.Lock()
	ar, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if ok {
		ar.cancel()
		ar.mu.Lock()
		ar.stopped = true
		ar.mu.Unlock()
		log.Printf("[INFO] run for session %s canceled by reset", shortID(sessionID))
	}

	var errs []error
	if err := r.store.DeleteRun(sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := r.results.ClearResults(sessionID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Resume sets the base context for trackers and picks up runs interrupted by restart.
// Each run gets one status check right away with limited concurrency, unfinished ones are tracked again.
func (r *Runner) Resume(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	runs, err := r.store.ActiveRuns()
	if err != nil {
		log.Printf("[WARN] can't load interrupted runs, %v", err)
		return
	}
	if len(runs) == 0 {
		return
	}
	log.Printf("[INFO] resuming %d interrupted run(s)", len(runs))

	gr := syncs.NewSizedGroup(r.resumeN)
	for _, run := range runs {
		gr.Go(func(context.Context) {
			r.resume(ctx, run)
		})
	}
	gr.Wait()
}

func (r *Runner) resume(ctx context.Context, run persistence.RunInfo) {
	r.mu.Lock()
	if _, busy := r.active[run.SessionID]; busy {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{cancel: cancel}
	r.active[run.SessionID] = ar
	r.mu.Unlock()

	if run.JobID == "" {
		log.Printf("[WARN] run for %s in session %s has no job id, marked failed", run.Filename, shortID(run.SessionID))
		r.finish(runCtx, ar, run, engine.Job{Status: enums.JobStatusFailed, Error: errInterrupted})
		r.release(run.SessionID, ar)
		return
	}

	job, err := r.engine.Poll(runCtx, run.BaseURL, run.JobID)
	if err == nil && job.Status.IsTerminal() {
		r.finish(runCtx, ar, run, job)
		r.release(run.SessionID, ar)
		return
	}
	if err != nil {
		log.Printf("[DEBUG] status check for resumed job %s failed, %v", run.JobID, err)
	}

	r.wg.Add(1)
	go r.track(runCtx, ar, run)
}

// Wait blocks until all trackers are done, trackers stop when the base context is canceled
func (r *Runner) Wait() {
	r.wg.Wait()
}

// coarseError makes the message stored with the run, engine details stay in logs
func coarseError(err error) string {
	var te *engine.TransportError
	if errors.As(err, &te) {
		if te.Status > 0 {
			return fmt.Sprintf("engine %s request failed with status %d", te.Op, te.Status)
		}
		return fmt.Sprintf("engine %s request failed", te.Op)
	}
	return "engine request failed"
}

// shortID cuts the session id for logs
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
