package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medflow/billing/internal/config"
	"github.com/medflow/billing/internal/domain/revenue"
	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "billing-server",
		Short:         "Hospital billing and insurance claims API",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(tariffCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() || strings.EqualFold(cfg.LogFormat, "text") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Str("service", "billing").Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", db.SchemaFor(tenant))

			if err := db.CreateTenantSchema(ctx, pool, tenant, nil); err != nil {
				return err
			}
			count, err := migrator.Up(ctx, db.SchemaFor(tenant))
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant whose schema is migrated (defaults to DEFAULT_TENANT)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			schema := db.SchemaFor(tenant)
			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.DateTime)
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant whose schema is inspected (defaults to DEFAULT_TENANT)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaFor(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

func tariffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tariff",
		Short: "Manage the tariff catalog",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter price list; codes that already have a price are skipped",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withTenant(cmd, tenant, func(ctx context.Context, a *app) error {
				n, err := a.tariffs.Seed(ctx, tariff.DefaultCatalog())
				if err != nil {
					return fmt.Errorf("seed tariff: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d tariff item(s).\n", n)
				return nil
			})
		},
	}
	seedCmd.Flags().String("tenant", "", "Tenant to seed (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(seedCmd)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flag pre-authorizations and claims that have waited too long for a response",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			return withTenant(cmd, tenant, func(ctx context.Context, a *app) error {
				if olderThan <= 0 {
					olderThan = a.cfg.StaleAfter
				}
				res, err := a.sweeper.FlagStale(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Flagged %d pre-authorization(s) and %d claim(s) older than %s.\n",
					res.PreAuths, res.Claims, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant to sweep (defaults to DEFAULT_TENANT)")
	cmd.Flags().Duration("older-than", 0, "Staleness window (defaults to STALE_AFTER)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reports",
	}

	revenueCmd := &cobra.Command{
		Use:   "revenue",
		Short: "Write the revenue trend and category breakdown to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			out, _ := cmd.Flags().GetString("out")
			bucketFlag, _ := cmd.Flags().GetString("bucket")
			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			bucket, err := revenue.ParseBucket(bucketFlag)
			if err != nil {
				return err
			}

			return withTenant(cmd, tenant, func(ctx context.Context, a *app) error {
				r, err := exportRange(a.revenue.DefaultRange(), fromFlag, toFlag)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				n, err := a.revenue.ExportParquet(ctx, f, r, bucket)
				if cerr := f.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("close %s: %w", out, cerr)
				}
				if err != nil {
					os.Remove(out)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d row(s) to %s.\n", n, out)
				return nil
			})
		},
	}
	revenueCmd.Flags().String("tenant", "", "Tenant to report on (defaults to DEFAULT_TENANT)")
	revenueCmd.Flags().String("out", "", "Output Parquet file")
	revenueCmd.Flags().String("bucket", "day", "Trend bucket: day, week or month")
	revenueCmd.Flags().String("from", "", "Start date YYYY-MM-DD (defaults to the first of this month)")
	revenueCmd.Flags().String("to", "", "End date YYYY-MM-DD, inclusive (defaults to now)")
	cmd.AddCommand(revenueCmd)
	return cmd
}

// exportRange overrides def with the given YYYY-MM-DD bounds. The to date is
// inclusive.
func exportRange(def revenue.Range, from, to string) (revenue.Range, error) {
	r := def
	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return revenue.Range{}, fmt.Errorf("--from: %w", err)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return revenue.Range{}, fmt.Errorf("--to: %w", err)
		}
		r.To = t.AddDate(0, 0, 1)
	}
	if !r.Valid() {
		return revenue.Range{}, revenue.ErrInvalidRange
	}
	return r, nil
}

// withTenant runs fn for a one-shot command against a tenant's schema with
// the full service graph built. Notifications are flushed before returning.
func withTenant(cmd *cobra.Command, tenant string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(pool, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	return db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}
