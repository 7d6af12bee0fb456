package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/clock"
	"github.com/JakeFAU/shelfscan/internal/crawler"
)

type submitter interface {
	Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
}

// scheduler submits the configured seeds once per crawl window. With no
// window it submits once at startup.
type scheduler struct {
	jobs   submitter
	clock  crawler.Clock
	window clock.Window
	params crawler.JobParameters
	logger *zap.Logger

	last time.Time
}

func newScheduler(jobs submitter, clk crawler.Clock, window clock.Window, params crawler.JobParameters, logger *zap.Logger) *scheduler {
	return &scheduler{
		jobs:   jobs,
		clock:  clk,
		window: window,
		params: params,
		logger: logger.Named("scheduler"),
	}
}

// Run checks the window every interval until ctx ends.
func (s *scheduler) Run(ctx context.Context, interval time.Duration) {
	if len(s.params.Seeds) == 0 {
		return
	}
	s.logger.Info("scheduled crawls enabled",
		zap.Int("seeds", len(s.params.Seeds)),
		zap.Bool("windowed", s.window.Enabled()),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		if !s.window.Enabled() && !s.last.IsZero() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick submits a job when the window is open and has not been served yet.
// It reports whether a job was submitted.
func (s *scheduler) tick(ctx context.Context) bool {
	now := s.clock.Now()
	if !s.window.Contains(now) {
		return false
	}
	opening := s.window.Opening(now)
	if !s.last.IsZero() && !opening.After(s.last) {
		return false
	}
	params := s.params
	params.Seeds = append([]string(nil), s.params.Seeds...)
	job, err := s.jobs.Submit(ctx, params)
	if err != nil {
		s.logger.Error("scheduled crawl submit failed", zap.Error(err))
		return false
	}
	s.last = opening
	s.logger.Info("scheduled crawl submitted", zap.String("job_id", job.ID), zap.Time("window_opened", opening))
	return true
}
