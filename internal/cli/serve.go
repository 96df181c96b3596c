package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/mcp"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/scheduler"
	"github.com/watzon/cadence/internal/series"
	"github.com/watzon/cadence/internal/store"
)

const (
	dbStatsSchedule  = "@every 30s"
	reconcileTimeout = 5 * time.Minute
)

var serveNoReconcile bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server on stdio",
	Long: `Run the MCP tool server. Requests are read from stdin and responses written
to stdout, one JSON-RPC message per line. Logs go to stderr or logging.output.

In the background a reconciliation sweep gives any active series that lost
its open occurrence a new one (recurrence.reconcile.schedule). Changes to
logging.level in the config file apply without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoReconcile, "no-reconcile", false, "Disable the background reconciliation sweep")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if serveNoReconcile {
		cfg.Recurrence.Reconcile.Enabled = false
	}

	loc, err := cfg.Recurrence.Location()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	manager := series.NewManager(store.NewSQLStore(db, nil), series.WithLocation(loc))

	tools, err := mcp.NewToolset(manager, cfg.MCP.Tools)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := newScheduler(cfg, loc, db, manager)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Recurrence.Reconcile.Enabled {
		if err := sched.RunNow(ctx, scheduler.JobReconcile); err != nil {
			log.Warn().Err(err).Msg("Startup reconciliation failed")
		}
	}

	if path, err := config.ConfigFilePath(cfgFile); err == nil {
		watcher, err := config.WatchFile(ctx, path, 0, func(next *config.Config) {
			applyLogLevel(next.Logging, verbose)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			defer watcher.Stop()
		}
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Address)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Serve blocks on stdin; closing it unblocks the read on shutdown.
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutdown signal received")
		_ = os.Stdin.Close()
	}()

	log.Info().
		Str("database", cfg.Database.Path).
		Str("timezone", loc.String()).
		Bool("reconcile", cfg.Recurrence.Reconcile.Enabled).
		Msg("Starting cadence")

	server := mcp.NewServer(tools, mcp.Options{
		Name:           cfg.MCP.Name,
		Version:        version,
		MaxMessageSize: cfg.MCP.MaxMessageSize,
	})
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// newScheduler registers the background jobs the configuration asks for.
func newScheduler(cfg *config.Config, loc *time.Location, db *database.DB, manager *series.Manager) (*scheduler.Scheduler, error) {
	sched := scheduler.New(loc)

	if cfg.Recurrence.Reconcile.Enabled {
		if err := sched.Add(scheduler.JobConfig{
			Name:          scheduler.JobReconcile,
			Expression:    cfg.Recurrence.Reconcile.Schedule,
			Timeout:       reconcileTimeout,
			SkipIfRunning: true,
		}, scheduler.ReconcileJob(manager)); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		if err := sched.Add(scheduler.JobConfig{
			Name:          scheduler.JobDBStats,
			Expression:    dbStatsSchedule,
			SkipIfRunning: true,
		}, scheduler.DBStatsJob(db)); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return srv
}
