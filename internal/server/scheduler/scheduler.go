// Package scheduler wires the background services to their cadences: frequent
// retry scans and the nightly lifecycle sweeps, all driven by robfig/cron.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carselling/uploadpipe/internal/logging"
	sc "github.com/carselling/uploadpipe/internal/server/config"
)

// RetryRunner is the slice of the retry service the scheduler drives.
type RetryRunner interface {
	ProcessDueCars(ctx context.Context, now time.Time) error
	RescueStuck(ctx context.Context, now time.Time) error
	ProcessDueFiles(ctx context.Context, now time.Time) error
}

// CleanupRunner is the slice of the cleanup service the scheduler drives.
type CleanupRunner interface {
	ReapStaleUploads(ctx context.Context, now time.Time) error
	EnforceRetention(ctx context.Context, now time.Time) error
}

// Scheduler owns the cron instance running all background work. A tick that
// is still running when its next slot arrives is skipped, never stacked.
type Scheduler struct {
	cron    *cron.Cron
	retry   RetryRunner
	cleanup CleanupRunner
	config  *sc.Config
	log     logging.Logger
}

func New(retry RetryRunner, cleanup CleanupRunner, config *sc.Config, log logging.Logger) *Scheduler {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{
		cron:    c,
		retry:   retry,
		cleanup: cleanup,
		config:  config,
		log:     log,
	}
}

// Start registers all jobs and starts the cron loop. The given context is the
// base context every job runs under.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info(ctx, "scheduler started",
		"car_scan", s.config.CarScanInterval.String(),
		"file_scan", s.config.FileScanInterval.String(),
		"cleanup", s.config.CleanupCronSpec,
		"retention", s.config.RetentionCronSpec)
	return nil
}

func (s *Scheduler) register(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every "+s.config.CarScanInterval.String(), func() {
		now := time.Now().UTC()
		if err := s.retry.ProcessDueCars(ctx, now); err != nil {
			s.log.Error(ctx, "car scan failed", "error", err)
		}
		if err := s.retry.RescueStuck(ctx, now); err != nil {
			s.log.Error(ctx, "rescue scan failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	// The file scan runs staggered against the car scan so the two frequent
	// scans never tick at the same instant.
	s.cron.Schedule(staggeredSchedule{
		interval: s.config.FileScanInterval,
		offset:   s.config.FileScanOffset,
	}, cron.FuncJob(func() {
		if err := s.retry.ProcessDueFiles(ctx, time.Now().UTC()); err != nil {
			s.log.Error(ctx, "file scan failed", "error", err)
		}
	}))

	_, err = s.cron.AddFunc(s.config.CleanupCronSpec, func() {
		if err := s.cleanup.ReapStaleUploads(ctx, time.Now().UTC()); err != nil {
			s.log.Error(ctx, "stale upload sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.config.RetentionCronSpec, func() {
		if err := s.cleanup.EnforceRetention(ctx, time.Now().UTC()); err != nil {
			s.log.Error(ctx, "retention sweep failed", "error", err)
		}
	})
	return err
}

// staggeredSchedule fires every interval at a fixed offset past the
// wall-clock interval boundary (interval 2m, offset 30s fires at :30 of every
// even minute).
type staggeredSchedule struct {
	interval time.Duration
	offset   time.Duration
}

func (s staggeredSchedule) Next(t time.Time) time.Time {
	next := t.Truncate(s.interval).Add(s.offset)
	for !next.After(t) {
		next = next.Add(s.interval)
	}
	return next
}

// Stop halts scheduling and returns a context that is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries exposes the registered cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}
