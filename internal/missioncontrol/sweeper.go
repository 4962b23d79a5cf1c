package missioncontrol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow) — matches the teacher's internal/cron.Scheduler parser.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Sweeper periodically reaps agents whose heartbeat has gone stale,
// freeing their stuck task back onto the board. Grounded on the teacher's
// internal/cron.Scheduler (ticker-driven loop keyed off a parsed cron
// schedule, Start/Stop with a cancel+WaitGroup), retargeted from firing
// user-defined schedules to running a single fixed sweep.
type Sweeper struct {
	mgr        *Manager
	schedule   cronlib.Schedule
	staleAfter time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper that fires on cronExpr and reaps any
// active/busy agent whose heartbeat is older than staleAfter. staleAfter
// defaults to 5 minutes if zero or negative.
func NewSweeper(mgr *Manager, cronExpr string, staleAfter time.Duration, logger *slog.Logger) (*Sweeper, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cronExpr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Sweeper{mgr: mgr, schedule: schedule, staleAfter: staleAfter, logger: logger}, nil
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweeper started", slog.Duration("stale_after", s.staleAfter))
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := time.Now()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.mgr.ReapStaleAgents(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("sweep: reap stale agents failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("sweep: reaped stale agents", slog.Int("count", n))
	}
}
