// Package scheduler drives periodic discovery sweeps.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/crawl"
)

// Sweeper runs one batch of due-facility crawls.
type Sweeper interface {
	CrawlDueFacilities(ctx context.Context) (crawl.BatchResult, error)
}

// Scheduler runs a sweep on a fixed interval until its context is
// cancelled. An immediate first sweep runs on start so a fresh deploy
// does not idle for a full interval.
type Scheduler struct {
	interval time.Duration
	sweeper  Sweeper
	logger   *zap.Logger
}

// New constructs a Scheduler. Intervals at or below zero default to one
// hour.
func New(interval time.Duration, sweeper Sweeper, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{interval: interval, sweeper: sweeper, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.sweeper.CrawlDueFacilities(ctx)
	if err != nil {
		s.logger.Error("discovery sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("discovery sweep finished",
		zap.Int("facilities_crawled", result.FacilitiesCrawled),
		zap.Int("facilities_failed", result.FacilitiesFailed),
		zap.Int("images_discovered", result.ImagesDiscovered),
	)
}
