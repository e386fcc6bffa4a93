package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	archived     int64
	pruned       int64
	archiveCalls int
	pruneCalls   int
	lastCutoff   time.Time
	err          error
}

func (f *fakeStore) ArchiveStaleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	f.archiveCalls++
	f.lastCutoff = cutoff
	return f.archived, f.err
}

func (f *fakeStore) PruneGenerationLog(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruneCalls++
	f.lastCutoff = cutoff
	return f.pruned, f.err
}

func TestArchiveStaleUsesTimeout(t *testing.T) {
	fs := &fakeStore{archived: 2}
	s := NewService(fs, Options{SessionTimeout: 6 * time.Hour})

	s.ArchiveStale(context.Background())

	if fs.archiveCalls != 1 {
		t.Fatalf("expected 1 archive call, got %d", fs.archiveCalls)
	}
	want := time.Now().Add(-6 * time.Hour)
	if diff := fs.lastCutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff %v too far from %v", fs.lastCutoff, want)
	}
}

func TestPruneLogSwallowsErrors(t *testing.T) {
	fs := &fakeStore{err: errors.New("db locked")}
	s := NewService(fs, Options{})

	// Must not panic or propagate; maintenance is best-effort.
	s.PruneLog(context.Background())
	if fs.pruneCalls != 1 {
		t.Fatalf("expected 1 prune call, got %d", fs.pruneCalls)
	}
}

func TestStartRunsInitialSweep(t *testing.T) {
	fs := &fakeStore{}
	s := NewService(fs, Options{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if fs.archiveCalls != 1 {
		t.Fatalf("expected catch-up sweep on start, got %d calls", fs.archiveCalls)
	}
}

func TestDefaults(t *testing.T) {
	s := NewService(&fakeStore{}, Options{})
	if s.opts.SessionTimeout != 24*time.Hour {
		t.Fatalf("default session timeout wrong: %v", s.opts.SessionTimeout)
	}
	if s.opts.LogRetention != 90*24*time.Hour {
		t.Fatalf("default retention wrong: %v", s.opts.LogRetention)
	}
}
