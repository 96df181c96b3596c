package scheduler

import (
	"context"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/series"
)

// Built-in job names.
const (
	JobReconcile = "reconcile"
	JobDBStats   = "db_stats"
)

// Reconciler repairs series that are missing their open occurrence.
type Reconciler interface {
	Reconcile(ctx context.Context) (*series.ReconcileReport, error)
}

// ReconcileJob wraps a reconciliation sweep as a job.
func ReconcileJob(r Reconciler) Job {
	return func(ctx context.Context) error {
		_, err := r.Reconcile(ctx)
		return err
	}
}

// DBStatsJob publishes connection pool gauges.
func DBStatsJob(db *database.DB) Job {
	return func(context.Context) error {
		stats := db.Stats()
		metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
		return nil
	}
}
