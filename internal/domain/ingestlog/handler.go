package ingestlog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nicu/nicu/internal/platform/auth"
	"github.com/nicu/nicu/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/vitals/ingestion", auth.RequireRole(auth.RoleChargeNurse, auth.RolePhysician))
	read.GET("/stats", h.GetStats)
	read.GET("/logs", h.ListLogs)
}

func (h *Handler) GetStats(c echo.Context) error {
	since, err := pagination.TimeParam(c, "since")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	st, err := h.svc.Stats(c.Request().Context(), c.QueryParam("source_id"), since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	since, err := pagination.TimeParam(c, "since")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f := ListFilter{
		SourceID:  c.QueryParam("source_id"),
		ErrorType: ErrorType(c.QueryParam("error_type")),
		Since:     since,
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		if !f.ErrorType.Valid() && f.ErrorType != "" {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
