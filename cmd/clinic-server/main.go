package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/config"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/cache"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Healthcare center patient records API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(integrityCmd())
	return root
}

// env is what every subcommand needs before doing its own work.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("service", "clinic-server").Str("version", version).Logger()
	return &env{cfg: cfg, logger: logger, closer: closer}, nil
}

func (e *env) Close() {
	_ = e.closer.Close()
}

func (e *env) pool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:               e.cfg.DatabaseURL,
		MaxConns:          e.cfg.DBMaxConns,
		MinConns:          e.cfg.DBMinConns,
		MaxConnLifetime:   e.cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   e.cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: e.cfg.DBHealthCheckPeriod,
		ApplicationName:   "clinic-server",
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Int32("max_conns", e.cfg.DBMaxConns).Msg("connected to database")
	return pool, nil
}

// cacheBackend connects to Redis when REDIS_URL is set. Without it locks
// and reports live in process, which only serializes runs within this
// process.
func (e *env) cacheBackend(ctx context.Context) (cache.Backend, error) {
	if e.cfg.RedisURL == "" {
		e.logger.Warn().Msg("REDIS_URL not set, using in-memory integrity locks")
		return cache.NewMemory(), nil
	}
	r, err := cache.NewRedis(ctx, e.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Msg("connected to redis")
	return r, nil
}
