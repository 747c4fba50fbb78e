package engine

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/agenclip/agenclip/app/enums"
)

// StatusSource returns a single snapshot of the job, implemented by Client
type StatusSource interface {
	Poll(ctx context.Context, baseURL, jobID string) (Job, error)
}

// Poller repeats status requests on a fixed interval until the job reaches a terminal state
type Poller struct {
	Source   StatusSource
	Interval time.Duration // 3s if not set
	MaxWait  time.Duration // 0 means wait forever
}

// Track polls the job status until the job is completed or failed, or ctx is canceled.
// onUpdate is called for every successful snapshot, including the terminal one.
// onTerminal is called exactly once when the job completes or fails, and never after cancellation.
// Failed polls are logged and retried on the next tick. Track blocks, callers run it in a goroutine.
func (p *Poller) Track(ctx context.Context, baseURL, jobID string, onUpdate, onTerminal func(Job)) {
	p.TrackSince(ctx, time.Now(), baseURL, jobID, onUpdate, onTerminal)
}

// TrackSince is Track for a job started earlier, MaxWait counts from started.
// A job already past MaxWait fails without polling.
func (p *Poller) TrackSince(ctx context.Context, started time.Time, baseURL, jobID string, onUpdate, onTerminal func(Job)) {
	interval := p.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.MaxWait > 0 {
		tm := time.NewTimer(max(p.MaxWait-time.Since(started), 0))
		defer tm.Stop()
		deadline = tm.C
	}

	log.Printf("[DEBUG] start tracking job %s on %s, every %v", jobID, baseURL, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[DEBUG] stop tracking job %s, %v", jobID, ctx.Err())
			return
		case <-deadline:
			log.Printf("[WARN] job %s not finished in %v", jobID, p.MaxWait)
			if onTerminal != nil {
				onTerminal(Job{ID: jobID, Status: enums.JobStatusFailed, Error: errTimedOut})
			}
			return
		case <-ticker.C:
			job, err := p.Source.Poll(ctx, baseURL, jobID)
			if err != nil {
				if ctx.Err() != nil {
					continue // cancellation is handled by the select
				}
				log.Printf("[WARN] failed to poll job %s, retry in %v: %v", jobID, interval, err)
				continue
			}
			log.Printf("[DEBUG] job %s status %s", jobID, job.Status)
			if onUpdate != nil {
				onUpdate(job)
			}
			if job.Status.IsTerminal() {
				if onTerminal != nil {
					onTerminal(job)
				}
				return
			}
		}
	}
}
