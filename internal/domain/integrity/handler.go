package integrity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
)

type Handler struct {
	runner        *Runner
	defaultTenant string
}

func NewHandler(runner *Runner, defaultTenant string) *Handler {
	return &Handler{runner: runner, defaultTenant: defaultTenant}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/integrity", auth.RequireRole(auth.RoleAdmin))
	g.POST("/scan", h.Scan)
	g.GET("/reports/latest", h.Latest)
}

// Scan runs the auditor synchronously for the caller's tenant.
func (h *Handler) Scan(c echo.Context) error {
	repair := false
	if v := c.QueryParam("repair"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "repair must be true or false")
		}
		repair = b
	}

	ctx := c.Request().Context()
	rep, err := h.runner.Run(ctx, h.tenant(c), repair)
	switch {
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Bool("repair", repair).Msg("integrity scan failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "integrity scan failed")
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Latest(c echo.Context) error {
	ctx := c.Request().Context()
	rep, err := h.runner.Latest(ctx, h.tenant(c))
	switch {
	case errors.Is(err, ErrNoReport):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Msg("load integrity report failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) tenant(c echo.Context) string {
	if t := db.TenantFromContext(c.Request().Context()); t != "" {
		return t
	}
	return h.defaultTenant
}
