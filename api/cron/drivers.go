package cron

import (
	"context"
)

const (
	JobSyncExecutions = "sync-cronjob-executions"
	JobFunctionEvents = "process-function-events"

	functionEventBatch = 100
)

// Drivers is the slice of the application service the periodic jobs call.
type Drivers interface {
	SyncCronJobExecutions(ctx context.Context) (int, error)
	ProcessPendingFunctionEvents(ctx context.Context, limit int) (int, error)
}

// RegisterDrivers schedules execution sync and function event retries.
func RegisterDrivers(s *Scheduler, d Drivers, syncSpec, retrySpec string) error {
	err := s.Register(JobSyncExecutions, syncSpec, func(ctx context.Context) error {
		n, err := d.SyncCronJobExecutions(ctx)
		if n > 0 {
			log.Infof("completed %d cronjob executions", n)
		}
		return err
	})
	if err != nil {
		return err
	}
	return s.Register(JobFunctionEvents, retrySpec, func(ctx context.Context) error {
		n, err := d.ProcessPendingFunctionEvents(ctx, functionEventBatch)
		if n > 0 {
			log.Infof("processed %d function events", n)
		}
		return err
	})
}
