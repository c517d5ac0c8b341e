// Package scheduler runs the service's background maintenance: the nightly
// Bank of Canada rate prefetch and the expired-cache sweep.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a maintenance task the scheduler can run. Run is expected to be
// safe to invoke both on schedule and ad hoc at startup.
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a seconds-granularity cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Maintenance scheduler started")
}

// Stop halts scheduling and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Maintenance scheduler stopped")
}

// AddJob registers a job on a six-field cron schedule (seconds first),
// e.g. "0 0 22 * * *" for 22:00 daily.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.runLogged(job) })
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Maintenance job registered")
	return nil
}

// RunNow executes a registered job immediately, outside its schedule.
// Used at startup to warm the rate cache before the first request.
func (s *Scheduler) RunNow(job Job) error {
	return s.runLogged(job)
}

func (s *Scheduler) runLogged(job Job) error {
	start := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Maintenance job starting")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("took", time.Since(start)).
			Msg("Maintenance job failed")
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("took", time.Since(start)).
		Msg("Maintenance job finished")
	return nil
}
