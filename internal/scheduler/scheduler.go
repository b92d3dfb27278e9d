package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = time.Hour

// Jobs are the periodic grant primitives of the billing service.
type Jobs interface {
	RunDailyFreeGrants(ctx context.Context) (int, error)
	RefreshAnnualAllocations(ctx context.Context) (int, error)
}

// Result counts the allocations created by one pass.
type Result struct {
	FreeDailyGrants   int
	AnnualAllocations int
}

// Runner triggers the free-daily and yearly-plan grants on a fixed interval.
// Both jobs are idempotent per day, so an interval shorter than a day only
// picks up users registered since the last pass.
type Runner struct {
	jobs     Jobs
	interval time.Duration
	logger   *zap.Logger
}

// New constructs a Runner. A non-positive interval selects one hour.
func New(jobs Jobs, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{jobs: jobs, interval: interval, logger: logger}
}

// Run executes a pass immediately and then once per interval until ctx is done.
func (runner *Runner) Run(ctx context.Context) {
	runner.logger.Info("grant scheduler started", zap.Duration("interval", runner.interval))
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := runner.RunOnce(ctx); err != nil && ctx.Err() == nil {
			runner.logger.Warn("grant pass failed", zap.Error(err))
		}
		timer := time.NewTimer(runner.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			runner.logger.Info("grant scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs both jobs. A failing job does not prevent the other from running.
func (runner *Runner) RunOnce(ctx context.Context) (Result, error) {
	var result Result
	freeDaily, freeDailyErr := runner.jobs.RunDailyFreeGrants(ctx)
	result.FreeDailyGrants = freeDaily
	annual, annualErr := runner.jobs.RefreshAnnualAllocations(ctx)
	result.AnnualAllocations = annual
	runner.logger.Info("grant pass finished",
		zap.Int("free_daily_grants", result.FreeDailyGrants),
		zap.Int("annual_allocations", result.AnnualAllocations),
	)
	return result, errors.Join(freeDailyErr, annualErr)
}
