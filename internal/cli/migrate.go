package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations. The server also does this on start;
use this command to upgrade a database ahead of time.

Examples:
  cadence migrate          Apply pending migrations
  cadence migrate status   Show applied and pending migrations`,
	Args: cobra.NoArgs,
	RunE: runMigrateApply,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)

	rootCmd.AddCommand(migrateCmd)
}

func runMigrateApply(cmd *cobra.Command, args []string) error {
	db, err := database.OpenWithoutMigrations(&appConfig.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return applyMigrations(cmd.Context(), cmd.OutOrStdout(), db.DB)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	db, err := database.OpenWithoutMigrations(&appConfig.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return printMigrationStatus(cmd.Context(), cmd.OutOrStdout(), db.DB)
}

func applyMigrations(ctx context.Context, w io.Writer, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pending, err := migrations.PendingIDs(ctx, db)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "Database is up to date.")
		return nil
	}

	if err := migrations.Run(ctx, db); err != nil {
		return err
	}
	for _, id := range pending {
		fmt.Fprintf(w, "Applied %s\n", id)
	}
	return nil
}

func printMigrationStatus(ctx context.Context, w io.Writer, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}

	applied, err := migrations.GetApplied(ctx, db)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	pending, err := migrations.PendingIDs(ctx, db)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}

	if len(applied) == 0 {
		fmt.Fprintln(w, "No migrations have been applied yet.")
	} else {
		fmt.Fprintln(w, "Applied migrations:")
		for _, m := range applied {
			fmt.Fprintf(w, "  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
	}

	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending migrations.")
		return nil
	}
	fmt.Fprintln(w, "Pending migrations:")
	for _, id := range pending {
		fmt.Fprintf(w, "  • %s\n", id)
	}
	return nil
}
