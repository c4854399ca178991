package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/integrity"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
	"github.com/Baleenmedia2512/Healthcare-Center-App/migrations"
)

// errCorruptionFound makes `integrity scan` exit non-zero so cron and
// alerting notice, even when every field was repaired.
var errCorruptionFound = errors.New("corrupted sub-records found")

// migrationsFS prefers a directory on disk over the embedded set.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func tenantFlag(cmd *cobra.Command, fallback string) (string, error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = fallback
	}
	if !db.ValidTenantID(tenant) {
		return "", fmt.Errorf("invalid tenant identifier %q", tenant)
	}
	return tenant, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage per-tenant schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			tenant, err := tenantFlag(cmd, env.cfg.DefaultTenant)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")
			if dir == "" {
				dir = env.cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := env.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.TenantSchema(tenant)
			count, err := db.NewMigrator(pool, migrationsFS(dir)).WithLogger(env.logger).UpTo(ctx, schema, target)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", schema, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, schema)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant to migrate (default DEFAULT_TENANT)")
	upCmd.Flags().String("dir", "", "Migrations directory (default: built-in migrations)")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			tenant, err := tenantFlag(cmd, env.cfg.DefaultTenant)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = env.cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := env.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.TenantSchema(tenant)
			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration status for %s: %w", schema, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant to inspect (default DEFAULT_TENANT)")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: built-in migrations)")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("migrations are forward-only; write a new numbered migration that reverts the change")
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
	}
	tw.Flush()
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return errors.New("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant identifier %q", name)
			}

			env, err := loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			pool, err := env.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.CreateTenantSchema(ctx, pool, name, migrationsFS(env.cfg.MigrationsDir)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s created in schema %s.\n", name, db.TenantSchema(name))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

func integrityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Audit stored clinical sub-records",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a tenant for corrupted sub-records, optionally resetting them to defaults",
		Long: "Scan every patient of a tenant and print the report as JSON. " +
			"Exits non-zero when any corrupted field was found. Meant to be run from cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			tenant, err := tenantFlag(cmd, env.cfg.DefaultTenant)
			if err != nil {
				return err
			}
			repair, _ := cmd.Flags().GetBool("repair")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tel, err := newTelemetry(ctx, env.cfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background()) //nolint:errcheck // best effort on exit

			pool, err := env.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			backend, err := env.cacheBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			guard := newGuard(env.cfg, env.logger, tel)
			runner := newRunner(env.cfg, env.logger, pool, backend, guard.Codec())

			report, runErr := runner.Run(ctx, tenant, repair)
			return finishScan(cmd.OutOrStdout(), report, runErr)
		},
	}
	scanCmd.Flags().String("tenant", "", "Tenant to scan (default DEFAULT_TENANT)")
	scanCmd.Flags().Bool("repair", false, "Reset corrupted fields to their defaults")

	cmd.AddCommand(scanCmd)
	return cmd
}

// finishScan prints whatever report exists and turns the outcome into the
// command's error.
func finishScan(w io.Writer, report *integrity.Report, runErr error) error {
	if report != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if report != nil && report.CorruptedFields > 0 {
		return errCorruptionFound
	}
	return nil
}
