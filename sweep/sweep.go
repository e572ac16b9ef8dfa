// Package sweep runs the periodic maintenance jobs: force-releasing locks
// abandoned by crashed sessions, draining the outbox and reaping idle review
// sessions.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"reviewdesk/logging"
)

type StaleReleaser interface {
	ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error)
}

type BatchDispatcher interface {
	DispatchBatch(ctx context.Context) (int, error)
}

type IdleReaper interface {
	ReapIdle(ctx context.Context, maxIdle time.Duration) int
}

// Jobs are the collaborators; a nil member disables its job.
type Jobs struct {
	Locks    StaleReleaser
	Outbox   BatchDispatcher
	Sessions IdleReaper
}

type Config struct {
	SweepSchedule      string
	OutboxSchedule     string
	LockStaleAfter     time.Duration
	SessionIdleTimeout time.Duration
	// JobTimeout bounds a single run of any job.
	JobTimeout time.Duration
}

type Scheduler struct {
	cfg    Config
	jobs   Jobs
	logger *slog.Logger

	sweeping    atomic.Bool
	dispatching atomic.Bool
	reaping     atomic.Bool
}

func New(cfg Config, jobs Jobs, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.Parse(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("sweep: sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	if _, err := cron.Parse(cfg.OutboxSchedule); err != nil {
		return nil, fmt.Errorf("sweep: outbox schedule %q: %w", cfg.OutboxSchedule, err)
	}
	if cfg.LockStaleAfter <= 0 || cfg.SessionIdleTimeout <= 0 {
		return nil, errors.New("sweep: stale and idle thresholds must be positive")
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		logger: logging.OrDefault(logger).With("component", "sweep"),
	}, nil
}

// Run starts the cron loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if err := c.AddJob(s.cfg.SweepSchedule, job{ctx, s.SweepLocks}); err != nil {
		return fmt.Errorf("sweep: add lock sweep: %w", err)
	}
	if err := c.AddJob(s.cfg.SweepSchedule, job{ctx, s.ReapSessions}); err != nil {
		return fmt.Errorf("sweep: add session reaper: %w", err)
	}
	if err := c.AddJob(s.cfg.OutboxSchedule, job{ctx, s.DispatchOutbox}); err != nil {
		return fmt.Errorf("sweep: add outbox dispatch: %w", err)
	}

	s.logger.Info("scheduler started", "sweep", s.cfg.SweepSchedule, "outbox", s.cfg.OutboxSchedule)
	c.Start()
	<-ctx.Done()
	c.Stop()
	s.logger.Info("scheduler stopped")
	return nil
}

// SweepLocks force-releases locks older than LockStaleAfter. Overlapping
// runs are skipped.
func (s *Scheduler) SweepLocks(ctx context.Context) {
	if s.jobs.Locks == nil || !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer s.sweeping.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	n, err := s.jobs.Locks.ReleaseStale(ctx, s.cfg.LockStaleAfter)
	if err != nil {
		s.logger.Error("stale lock sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("released stale locks", "count", n, "older_than", s.cfg.LockStaleAfter)
	}
}

// DispatchOutbox drains the outbox until a batch comes back short.
func (s *Scheduler) DispatchOutbox(ctx context.Context) {
	if s.jobs.Outbox == nil || !s.dispatching.CompareAndSwap(false, true) {
		return
	}
	defer s.dispatching.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	total := 0
	for {
		n, err := s.jobs.Outbox.DispatchBatch(ctx)
		total += n
		if err != nil {
			s.logger.Error("outbox dispatch failed", "delivered", total, "error", err)
			return
		}
		if n == 0 || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.logger.Debug("outbox dispatched", "count", total)
	}
}

func (s *Scheduler) ReapSessions(ctx context.Context) {
	if s.jobs.Sessions == nil || !s.reaping.CompareAndSwap(false, true) {
		return
	}
	defer s.reaping.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	s.jobs.Sessions.ReapIdle(ctx, s.cfg.SessionIdleTimeout)
}

type job struct {
	ctx context.Context
	fn  func(context.Context)
}

func (j job) Run() {
	if j.ctx.Err() != nil {
		return
	}
	j.fn(j.ctx)
}
