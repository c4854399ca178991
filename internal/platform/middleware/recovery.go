package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500. It logs through the request
// logger when one is attached and falls back to logger otherwise.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				l := zerolog.Ctx(c.Request().Context())
				if l.GetLevel() == zerolog.Disabled {
					l = &logger
				}
				l.Error().
					Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
