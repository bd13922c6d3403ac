package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/config"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/middleware"
	"github.com/medflow/billing/internal/platform/validation"
	"github.com/medflow/billing/migrations"
)

const version = "0.1.0"

// newEcho builds the server with global middleware, public endpoints and
// the /api/v1 group. Auth and tenant resolution skip the public paths.
// Audit entries go to the log and to every recorder given.
func newEcho(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, tenant echo.MiddlewareFunc, recorders ...middleware.AuditRecorder) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(m.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	e.Use(skipPublic(authMW))
	if tenant != nil {
		e.Use(skipPublic(tenant))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	api := e.Group("/api/v1")
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
	}
	api.Use(middleware.RateLimit(rl))
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	api.Use(middleware.Audit(logger, recorders...))
	return e, api
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	a, err := newApp(pool, cfg, logger, m)
	if err != nil {
		return err
	}
	defer a.close()

	e, api := newEcho(cfg, logger, m, db.TenantMiddleware(pool, cfg.DefaultTenant), middleware.NewAuditStorePG(pool))
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, migrations.FS), db.SchemaFor(cfg.DefaultTenant)))
	a.registerRoutes(api)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// skipPublic bypasses mw for health and metrics endpoints.
func skipPublic(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		wrapped := mw(next)
		return func(c echo.Context) error {
			if auth.AuthSkipper(c) {
				return next(c)
			}
			return wrapped(c)
		}
	}
}
