package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenclip/agenclip/app/enums"
)

// scriptedSource returns prepared snapshots (or errors) one per call, repeating the last one
type scriptedSource struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
}

type scriptStep struct {
	job Job
	err error
}

func (s *scriptedSource) Poll(_ context.Context, _, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[idx]
	step.job.ID = jobID
	return step.job, step.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recorder collects callbacks of Track
type recorder struct {
	mu       sync.Mutex
	updates  []Job
	terminal []Job
}

func (r *recorder) onUpdate(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, j)
}

func (r *recorder) onTerminal(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = append(r.terminal, j)
}

func TestPoller_TrackCompleted(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{job: Job{Status: enums.JobStatusTranscribing}},
		{job: Job{Status: enums.JobStatusAnalyzing}},
		{job: Job{Status: enums.JobStatusCompleted, Results: []ClipResult{{URL: "http://e/c1.mp4", Title: "Clip 1", Score: 91}}}},
	}}
	rec := &recorder{}
	p := Poller{Source: src, Interval: 5 * time.Millisecond}

	p.Track(context.Background(), "http://e", "job-1", rec.onUpdate, rec.onTerminal)

	require.Len(t, rec.updates, 3)
	assert.Equal(t, enums.JobStatusTranscribing, rec.updates[0].Status)
	assert.Equal(t, enums.JobStatusAnalyzing, rec.updates[1].Status)
	require.Len(t, rec.terminal, 1)
	assert.Equal(t, enums.JobStatusCompleted, rec.terminal[0].Status)
	assert.Equal(t, "Clip 1", rec.terminal[0].Results[0].Title)
	assert.Equal(t, 3, src.Calls(), "no polls after terminal state")
}

func TestPoller_TrackFailedStopsPolling(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{job: Job{Status: enums.JobStatusQueued}},
		{job: Job{Status: enums.JobStatusFailed, Error: "bad input"}},
	}}
	rec := &recorder{}
	p := Poller{Source: src, Interval: 5 * time.Millisecond}

	p.Track(context.Background(), "http://e", "job-1", rec.onUpdate, rec.onTerminal)
	time.Sleep(30 * time.Millisecond)

	require.Len(t, rec.terminal, 1)
	assert.Equal(t, enums.JobStatusFailed, rec.terminal[0].Status)
	assert.Equal(t, "bad input", rec.terminal[0].Error)
	assert.Equal(t, 2, src.Calls())
}

func TestPoller_TrackSwallowsErrors(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{err: &TransportError{Op: "status", URL: "http://e/status/job-1", Err: errors.New("connection reset")}},
		{err: &TransportError{Op: "status", URL: "http://e/status/job-1", Status: 502}},
		{job: Job{Status: enums.JobStatusRendering}},
		{err: errors.New("blip")},
		{job: Job{Status: enums.JobStatusCompleted, Results: []ClipResult{{URL: "u", Title: "t"}}}},
	}}
	rec := &recorder{}
	p := Poller{Source: src, Interval: 5 * time.Millisecond}

	p.Track(context.Background(), "http://e", "job-1", rec.onUpdate, rec.onTerminal)

	assert.Len(t, rec.updates, 2, "errors are not reported as updates")
	require.Len(t, rec.terminal, 1)
	assert.Equal(t, enums.JobStatusCompleted, rec.terminal[0].Status)
	assert.Equal(t, 5, src.Calls())
}

func TestPoller_TrackCanceled(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{{job: Job{Status: enums.JobStatusAnalyzing}}}}
	rec := &recorder{}
	p := Poller{Source: src, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Track(ctx, "http://e", "job-1", rec.onUpdate, rec.onTerminal)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("track not stopped on cancel")
	}

	calls := src.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no polls after cancel")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.terminal)
}

func TestPoller_TrackMaxWait(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{{job: Job{Status: enums.JobStatusQueued}}}}
	rec := &recorder{}
	p := Poller{Source: src, Interval: 5 * time.Millisecond, MaxWait: 40 * time.Millisecond}

	st := time.Now()
	p.Track(context.Background(), "http://e", "job-1", rec.onUpdate, rec.onTerminal)
	assert.GreaterOrEqual(t, time.Since(st), 40*time.Millisecond)

	require.Len(t, rec.terminal, 1)
	assert.Equal(t, enums.JobStatusFailed, rec.terminal[0].Status)
	assert.Equal(t, "timed out waiting for engine", rec.terminal[0].Error)
	assert.Equal(t, "job-1", rec.terminal[0].ID)
}

func TestPoller_TrackSince(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{{job: Job{Status: enums.JobStatusQueued}}}}
	p := Poller{Source: src, Interval: time.Hour, MaxWait: 40 * time.Millisecond}

	t.Run("past max wait", func(t *testing.T) {
		rec := &recorder{}
		st := time.Now()
		p.TrackSince(context.Background(), time.Now().Add(-time.Hour), "http://e", "job-1", rec.onUpdate, rec.onTerminal)
		assert.Less(t, time.Since(st), time.Second)
		require.Len(t, rec.terminal, 1)
		assert.Equal(t, "timed out waiting for engine", rec.terminal[0].Error)
		assert.Equal(t, 0, src.Calls(), "no status requests for an expired job")
	})

	t.Run("remaining budget only", func(t *testing.T) {
		rec := &recorder{}
		p := Poller{Source: src, Interval: time.Hour, MaxWait: time.Second}
		st := time.Now()
		p.TrackSince(context.Background(), time.Now().Add(-950*time.Millisecond), "http://e", "job-2", rec.onUpdate, rec.onTerminal)
		assert.Less(t, time.Since(st), 500*time.Millisecond)
		require.Len(t, rec.terminal, 1)
		assert.Equal(t, enums.JobStatusFailed, rec.terminal[0].Status)
	})
}

func TestPoller_TrackNilCallbacks(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{{job: Job{Status: enums.JobStatusFailed}}}}
	p := Poller{Source: src, Interval: time.Millisecond}
	p.Track(context.Background(), "http://e", "job-1", nil, nil)
	assert.Equal(t, 1, src.Calls())
}
