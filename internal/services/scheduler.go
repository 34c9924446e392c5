package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"breakeven/internal/core"
)

// SchedulerConfig holds the timer intervals driving a mounted session.
type SchedulerConfig struct {
	// RefreshInterval drives the live daily refresh (default: 60s).
	RefreshInterval time.Duration

	// StaleCheckInterval drives the expense TTL check (default: 60s).
	StaleCheckInterval time.Duration
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RefreshInterval:    60 * time.Second,
		StaleCheckInterval: 60 * time.Second,
	}
}

// Scheduler owns the periodic work tied to an active driver session: the
// live-refresh tick, the staleness check, and the self-rescheduling PH
// midnight reset. Start and Stop bracket the session's lifetime; no timer
// outlives Stop.
type Scheduler struct {
	reconciler *Reconciler
	config     SchedulerConfig
	clock      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(reconciler *Reconciler, config SchedulerConfig) *Scheduler {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 60 * time.Second
	}
	if config.StaleCheckInterval <= 0 {
		config.StaleCheckInterval = 60 * time.Second
	}
	return &Scheduler{
		reconciler: reconciler,
		config:     config,
		clock:      time.Now,
	}
}

// Start begins the timer loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)

	slog.InfoContext(ctx, "Scheduler started",
		"refresh_interval", s.config.RefreshInterval,
		"stale_check_interval", s.config.StaleCheckInterval)
	return nil
}

// Stop tears down all timers and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	refresh := time.NewTicker(s.config.RefreshInterval)
	defer refresh.Stop()

	stale := time.NewTicker(s.config.StaleCheckInterval)
	defer stale.Stop()

	// One-shot that reschedules itself for the following midnight when it
	// fires.
	midnight := time.NewTimer(core.UntilNextMidnight(s.clock()))
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-refresh.C:
			s.reconciler.Tick(ctx)
		case <-stale.C:
			s.reconciler.CheckStale(ctx)
		case <-midnight.C:
			s.reconciler.MidnightReset(ctx)
			midnight.Reset(core.UntilNextMidnight(s.clock()))
		}
	}
}
