// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New creates a new scheduler using standard five-field cron specs.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(),
		log:  log.With("component", "scheduler"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish, or until
// ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "@daily"             - Midnight every day
//   - "30 16 * * MON-FRI"  - 16:30 on weekdays
//   - "@every 1h"          - Every hour
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug("running job", "job", job.Name())

		if err := job.Run(); err != nil {
			s.log.Error("job failed", "job", job.Name(), "err", err)
		} else {
			s.log.Debug("job completed", "job", job.Name())
		}
	})
	if err != nil {
		return err
	}

	s.log.Info("job registered", "schedule", schedule, "job", job.Name())
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info("running job immediately", "job", job.Name())
	return job.Run()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
