// Package task runs the periodic maintenance jobs.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/robfig/cron/v3"

	"github.com/awgpanel/awg-manager/shell"
)

// Cleaner disables expired clients.
type Cleaner interface {
	CleanupExpiredClients(ctx context.Context, now time.Time) (int, error)
}

// jobTimeout bounds one cleanup run across every backend.
const jobTimeout = 2 * time.Minute

// RunCleanup runs one expiry cleanup and logs its outcome.
func RunCleanup(ctx context.Context, cleaner Cleaner, now time.Time) (int, error) {
	n, err := cleaner.CleanupExpiredClients(ctx, now)
	if err != nil {
		log.Error("Cannot cleanup expired clients: ", err)
		return 0, err
	}
	if n > 0 {
		log.Infof("Expired clients cleanup disabled %d clients", n)
	} else {
		log.Debugf("Expired clients cleanup found nothing to do")
	}
	return n, nil
}

// Scheduler triggers the cleanup on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the cleanup job under schedule, a standard five field
// cron expression.
func NewScheduler(schedule string, cleaner Cleaner) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout+shell.DefaultTimeout)
		defer cancel()
		RunCleanup(ctx, cleaner, time.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next planned run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
