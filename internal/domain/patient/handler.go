package patient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
	"github.com/Baleenmedia2512/Healthcare-Center-App/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/patients", h.ListPatients)
	staff.GET("/patients/:id", h.GetPatient)
	staff.POST("/patients", h.CreatePatient)
	staff.PUT("/patients/:id", h.UpdatePatient)
	staff.PUT("/patients/:id/subrecords/:kind", h.UpdateSubRecord)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/patients/:id", h.DeletePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	resp, err := h.svc.CreatePatient(ctx, &req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := ListFilter{Name: c.QueryParam("name")}
	if s := c.QueryParam("sex"); s != "" {
		sex, err := subrecord.ParseSex(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid sex filter")
		}
		f.Sex = sex
	}
	if b := c.QueryParam("branch_id"); b != "" {
		branch, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid branch_id")
		}
		f.BranchID = &branch
	}

	patients, total, err := h.svc.ListPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.UpdatePatient(c.Request().Context(), id, &req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateSubRecord takes the sub-record itself as the request body, either
// as an object or as a JSON string holding one.
func (h *Handler) UpdateSubRecord(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	kind, err := subrecord.ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSubRecordBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.UpdateSubRecord(c.Request().Context(), id, kind, json.RawMessage(body))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

const maxSubRecordBody = 1 << 20

func patientID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps service errors to HTTP responses. Only invariant
// violations and infrastructure failures become a 500.
func httpError(c echo.Context, err error) error {
	var (
		demo     *DemographicsError
		rejected *subrecord.RejectedWriteError
		warn     *subrecord.ValidationError
		broken   *subrecord.EncodingInvariantViolation
	)
	switch {
	case errors.As(err, &demo):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  "invalid patient",
			"fields": demo.Fields,
		})
	case errors.As(err, &rejected):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  "unparseable clinical data",
			"fields": rejected.FieldNames(),
		})
	case errors.As(err, &warn):
		return echo.NewHTTPError(http.StatusBadRequest, warn.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.As(err, &broken):
		log.Ctx(c.Request().Context()).Error().Err(err).Str("kind", broken.Kind.String()).Msg("sub-record encoding invariant violated")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	log.Ctx(c.Request().Context()).Error().Err(err).Msg("patient request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
