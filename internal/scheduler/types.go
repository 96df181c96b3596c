package scheduler

import (
	"context"
	"time"
)

// Job is a unit of background work. The context is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// JobConfig describes a registered job.
type JobConfig struct {
	Name       string // Unique job name
	Expression string // Cron expression or descriptor ("@every 15m", "@daily")
	Timeout    time.Duration
	// SkipIfRunning drops a tick while the previous run is still active
	SkipIfRunning bool
}

// JobStatus reports the last and next run of a job. NextRun is computed from the
// expression before the scheduler starts.
type JobStatus struct {
	Name     string
	NextRun  time.Time
	LastRun  *time.Time
	LastErr  error
	Runs     int
	Skipped  int
	Running  bool
	Duration time.Duration
}
