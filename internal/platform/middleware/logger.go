package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
)

// Logger attaches a request-scoped logger carrying the request ID to the
// request context, so handlers and the data-quality observer can use
// zerolog.Ctx, and writes one access line per request.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			reqLogger := logger.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLogger.WithContext(req.Context())))

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			evt := reqLogger.Info()
			switch {
			case status >= http.StatusInternalServerError:
				evt = reqLogger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = reqLogger.Warn()
			}
			if tid, ok := c.Get("tenant_id").(string); ok {
				evt = evt.Str("tenant_id", tid)
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("user_id", auth.UserIDFromContext(c.Request().Context())).
				Msg("request")

			return err
		}
	}
}
