package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/config"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/integrity"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/patient"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/cache"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/middleware"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger
	cfg := env.cfg

	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode, every unauthenticated request gets admin access")
	}

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

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

	e := newServer(cfg, logger, pool, backend, tel)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	return telemetry.NewProvider(ctx, telemetry.TelemetryConfig{
		ServiceName:    "clinic-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   !cfg.IsProduction(),
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})
}

// newGuard builds the boundary guard and its codec, both reporting
// data-quality events through telemetry.
func newGuard(cfg *config.Config, logger zerolog.Logger, tel *telemetry.Provider) *subrecord.Guard {
	obs := telemetry.NewDataQualityObserver(logger, tel.Meter())
	codec := subrecord.NewCodec(obs)
	return subrecord.NewGuard(codec, obs, subrecord.WritePolicy{RejectParseFailures: cfg.RejectParseFailures})
}

func newRunner(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, backend cache.Backend, codec *subrecord.Codec) *integrity.Runner {
	stores := func(tenantID string) (integrity.Store, error) {
		repo, err := patient.NewRepoForTenant(pool, tenantID)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	runner := integrity.NewRunner(stores, codec, backend, integrity.Options{
		Concurrency: cfg.IntegrityRepairConcurrency,
		Logger:      logger,
	})
	runner.LockTTL = cfg.IntegrityLockTTL
	return runner
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware(auth.AuthSkipper)
	case "local":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	}
}

// newServer wires middleware and routes. Infrastructure endpoints sit
// outside /api/v1 and skip auth, tenancy and auditing.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, backend cache.Backend, tel *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tel.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/health/ready", db.ReadinessHandler(map[string]db.Pinger{
		"postgres": pool,
		"cache":    backend,
	}))
	e.GET("/metrics", tel.MetricsHandler())

	api := e.Group("/api/v1",
		authMiddleware(cfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
		middleware.Audit(logger),
		middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/integrity/"),
	)

	guard := newGuard(cfg, logger, tel)
	patients := patient.NewService(patient.NewRepo(pool), guard, cfg.DefaultPhoneRegion)
	patient.NewHandler(patients).RegisterRoutes(api)

	runner := newRunner(cfg, logger, pool, backend, guard.Codec())
	integrity.NewHandler(runner, cfg.DefaultTenant).RegisterRoutes(api)

	return e
}
