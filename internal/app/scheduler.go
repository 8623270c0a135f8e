/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron               *cron.Cron
	jobs               *Jobs
	logger             *zap.Logger
	linkExpirySchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *zap.Logger, linkExpirySchedule string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.With(zap.String("component", "cron"))))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:               c,
		jobs:               jobs,
		logger:             logger,
		linkExpirySchedule: linkExpirySchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.linkExpirySchedule, s.jobs.ProcessLinkExpiry); err != nil {
		s.logger.Error("failed to schedule payment link expiry job", zap.String("schedule", s.linkExpirySchedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled payment link expiry job", zap.String("schedule", s.linkExpirySchedule))

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
