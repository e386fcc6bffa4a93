// Package cron runs the background maintenance jobs: archiving idle
// sessions and pruning the generation audit log.
package cron

import (
	"context"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Store is the persistence surface the maintenance jobs need.
type Store interface {
	ArchiveStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	PruneGenerationLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options tune the maintenance schedule. Zero fields use defaults.
type Options struct {
	// SessionTimeout is how long a session may sit idle before the
	// hourly sweep archives it.
	SessionTimeout time.Duration
	// LogRetention is how long generation audit rows are kept.
	LogRetention time.Duration
}

func (o *Options) fill() {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 24 * time.Hour
	}
	if o.LogRetention <= 0 {
		o.LogRetention = 90 * 24 * time.Hour
	}
}

type Service struct {
	store Store
	opts  Options
	cron  *rcron.Cron
}

func NewService(store Store, opts Options) *Service {
	opts.fill()
	return &Service{store: store, opts: opts}
}

// Start registers the jobs and begins the schedule. The stale-session
// sweep also runs once immediately so a restart catches up.
func (s *Service) Start() error {
	s.cron = rcron.New()

	if _, err := s.cron.AddFunc("@hourly", func() { s.ArchiveStale(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", func() { s.PruneLog(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	s.ArchiveStale(context.Background())
	log.Printf("[cron] maintenance started (session timeout %s)", s.opts.SessionTimeout)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Printf("[cron] maintenance stopped")
}

// ArchiveStale archives every active session idle past the timeout.
func (s *Service) ArchiveStale(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.SessionTimeout)
	n, err := s.store.ArchiveStaleSessions(ctx, cutoff)
	if err != nil {
		log.Printf("[cron] archive stale sessions failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[cron] archived %d stale sessions", n)
	}
}

// PruneLog drops generation audit rows older than the retention window.
func (s *Service) PruneLog(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.LogRetention)
	n, err := s.store.PruneGenerationLog(ctx, cutoff)
	if err != nil {
		log.Printf("[cron] prune generation log failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[cron] pruned %d generation log rows", n)
	}
}
