package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	"github.com/inferloop/aidrin/internal/storage/migrations"
)

type MigrateOptions struct {
	DSN      string
	Status   bool
	Rollback int
	DryRun   bool
}

// migrator is the subset of the migration manager the command drives.
type migrator interface {
	Migrate(ctx context.Context) ([]*migrations.MigrationResult, error)
	Rollback(ctx context.Context, steps int) ([]*migrations.MigrationResult, error)
	GetStatus(ctx context.Context) (*migrations.MigrationStatus, error)
}

func NewMigrateCmd(settings *Settings) *cobra.Command {
	opts := &MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the report archive schema",
		Long: `Apply pending schema migrations to the Postgres report archive, show
the applied and pending migrations, or roll back the latest ones.`,
		Example: `  # Apply pending migrations
  aidrin-cli migrate --dsn postgres://aidrin@localhost:5432/aidrin?sslmode=disable

  # Show migration status
  aidrin-cli migrate --status

  # Preview pending migrations
  aidrin-cli migrate --dry-run

  # Roll back the latest migration
  aidrin-cli migrate --rollback 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, settings, opts)
		},
	}

	// Add flags
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "Postgres DSN (defaults to archive.dsn from the config file)")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "Show migration status")
	cmd.Flags().IntVar(&opts.Rollback, "rollback", 0, "Number of migrations to roll back")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "List pending migrations without applying them")

	return cmd
}

func runMigrate(cmd *cobra.Command, settings *Settings, opts *MigrateOptions) error {
	cfg := settings.config()
	logger := newLogger(settings, cfg, cmd.ErrOrStderr())

	archiveConfig := cfg.Archive
	if opts.DSN != "" {
		archiveConfig.DSN = opts.DSN
	}
	archiveConfig.AutoMigrate = false

	archive, err := postgres.NewReportArchive(&archiveConfig, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := archive.Connect(ctx); err != nil {
		return err
	}
	defer archive.Close()

	db, err := archive.DB()
	if err != nil {
		return err
	}

	return executeMigration(ctx, cmd.OutOrStdout(), postgres.NewArchiveMigrator(db, logger), opts)
}

func executeMigration(ctx context.Context, w io.Writer, m migrator, opts *MigrateOptions) error {
	if opts.Rollback < 0 {
		return fmt.Errorf("rollback steps cannot be negative")
	}

	if opts.Status || opts.DryRun {
		status, err := m.GetStatus(ctx)
		if err != nil {
			return err
		}
		printStatus(w, status)
		if opts.DryRun {
			fmt.Fprintln(w, "\n[DRY RUN MODE - No migrations were applied]")
		}
		return nil
	}

	var (
		results []*migrations.MigrationResult
		err     error
		verb    = "Applied"
	)
	if opts.Rollback > 0 {
		verb = "Rolled back"
		results, err = m.Rollback(ctx, opts.Rollback)
	} else {
		results, err = m.Migrate(ctx)
	}

	for _, r := range results {
		mark := "ok"
		if !r.Success {
			mark = "FAILED: " + r.ErrorMessage
		}
		fmt.Fprintf(w, "- %04d %s (%s) %s\n", r.Version, r.Name, r.ExecutionTime, mark)
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "Archive schema is up to date")
		return nil
	}
	fmt.Fprintf(w, "%s %d migration(s)\n", verb, len(results))
	return nil
}

func printStatus(w io.Writer, status *migrations.MigrationStatus) {
	fmt.Fprintf(w, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(w, "Applied: %d, pending: %d\n", status.AppliedCount, status.PendingCount)

	if len(status.AppliedMigrations) > 0 {
		fmt.Fprintln(w, "\nApplied migrations:")
		for _, r := range status.AppliedMigrations {
			fmt.Fprintf(w, "- %04d %s (%s)\n", r.Version, r.Name, r.AppliedAt.Format("2006-01-02 15:04:05"))
		}
	}
	if len(status.PendingMigrations) > 0 {
		fmt.Fprintln(w, "\nPending migrations:")
		for _, m := range status.PendingMigrations {
			fmt.Fprintf(w, "- %04d %s: %s\n", m.Version, m.Name, m.Description)
		}
	}
}
