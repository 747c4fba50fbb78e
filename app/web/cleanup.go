package web

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"
)

// startCleanup schedules housekeeping of stale sessions and expired admin tokens.
// Returns the stop func, a no-op if the schedule is empty.
func (s *Server) startCleanup(ctx context.Context) (func(), error) {
	if s.cleanupSched == "" {
		return func() {}, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	scheduler := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(s.cleanupSched, func() { s.cleanup(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", s.cleanupSched, err)
	}
	scheduler.Start()
	log.Printf("[INFO] housekeeping scheduled %q, retention %v", s.cleanupSched, s.retention)

	return func() { <-scheduler.Stop().Done() }, nil
}

// cleanup removes sessions not updated within retention and drops expired admin tokens
func (s *Server) cleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tokens := s.sessions.DropExpired()

	if s.retention <= 0 {
		log.Printf("[DEBUG] cleanup done, expired tokens %d", tokens)
		return
	}
	removed, err := s.store.Cleanup(time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("[WARN] cleanup failed, %v", err)
		return
	}
	log.Printf("[INFO] cleanup done, removed sessions %d, expired tokens %d", removed, tokens)
}
