package etl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled refresh of the registry
type Job func(ctx context.Context) error

// Scheduler runs a refresh job on a cron schedule. A run still in progress
// makes the next tick a no-op.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	job      Job
}

// NewScheduler validates a standard five field cron expression
func NewScheduler(spec string, job Job) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, schedule: schedule, job: job}, nil
}

// Next returns the first activation after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is done, running the job on schedule. It waits for a
// running job before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		start := time.Now()
		log.Printf("Scheduled refresh started")
		if err := s.job(ctx); err != nil {
			log.Printf("Scheduled refresh failed after %v: %v", time.Since(start).Round(time.Second), err)
			return
		}
		log.Printf("Scheduled refresh complete in %v", time.Since(start).Round(time.Second))
	}))

	c.Start()
	log.Printf("Refresh scheduled with %q, next run at %s", s.spec, s.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
