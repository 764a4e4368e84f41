// Package scheduler runs the recurring maintenance jobs: the daily
// record rollover and periodic refill recomputation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/config"
	"github.com/pilltrail/pilltrail/internal/tracker"
)

// Runner manages the cron schedule.
type Runner struct {
	cfg     config.SchedulerConfig
	tracker *tracker.Tracker
	logger  *zap.Logger
	cron    *cron.Cron

	mu      sync.RWMutex
	running bool
}

// NewRunner creates a scheduler runner.
func NewRunner(cfg config.SchedulerConfig, tr *tracker.Tracker, logger *zap.Logger) *Runner {
	if cfg.DailyInitSpec == "" {
		cfg.DailyInitSpec = "5 0 * * *"
	}
	if cfg.RefillRecomputeSpec == "" {
		cfg.RefillRecomputeSpec = "@every 6h"
	}

	return &Runner{
		cfg:     cfg,
		tracker: tr,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start registers the jobs and starts the cron loop. The daily init
// job also runs once immediately so a restart mid-day still seeds
// today's records.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := r.cron.AddFunc(r.cfg.DailyInitSpec, r.runDailyInit); err != nil {
		return fmt.Errorf("invalid daily init spec %q: %w", r.cfg.DailyInitSpec, err)
	}
	if _, err := r.cron.AddFunc(r.cfg.RefillRecomputeSpec, r.runRefillRecompute); err != nil {
		return fmt.Errorf("invalid refill recompute spec %q: %w", r.cfg.RefillRecomputeSpec, err)
	}

	r.runDailyInit()

	r.cron.Start()
	r.running = true
	r.logger.Info("Scheduler started",
		zap.String("daily_init", r.cfg.DailyInitSpec),
		zap.String("refill_recompute", r.cfg.RefillRecomputeSpec),
	)
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is active.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Runner) runDailyInit() {
	if err := r.tracker.InitializeToday(); err != nil {
		r.logger.Error("Daily record initialization failed", zap.Error(err))
		return
	}
	r.logger.Info("Daily records initialized")
}

func (r *Runner) runRefillRecompute() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := r.tracker.RefreshNow(ctx); err != nil {
		r.logger.Error("Refill recomputation failed", zap.Error(err))
		return
	}
	r.logger.Debug("Refill predictions recomputed")
}
