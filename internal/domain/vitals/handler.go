package vitals

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nicu/nicu/internal/platform/auth"
	"github.com/nicu/nicu/pkg/pagination"
)

// maxBodyBytes bounds an ingest request body.
const maxBodyBytes = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts ingestion under api and, when legacy is non-nil,
// under the unversioned path older edge scripts post to. ingest middleware
// (rate limiting) applies to the ingest routes only.
func (h *Handler) RegisterRoutes(api, legacy *echo.Group, ingest ...echo.MiddlewareFunc) {
	ingestMW := append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleDevice)}, ingest...)
	api.POST("/vitals/ingest", h.Ingest, ingestMW...)
	if legacy != nil {
		legacy.POST("/vitals/ingest", h.Ingest, ingestMW...)
	}

	read := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	read.GET("/patients/:id/vitals", h.ListPatientVitals)
}

type ingestResponse struct {
	Success        bool         `json:"success"`
	VitalID        *uuid.UUID   `json:"vitalId,omitempty"`
	SmoothedVitals *Readings    `json:"smoothedVitals,omitempty"`
	Alarms         *int         `json:"alarms,omitempty"`
	Duration       *int64       `json:"duration,omitempty"`
	Error          string       `json:"error,omitempty"`
	Details        []FieldError `json:"details,omitempty"`
	Confidence     *float64     `json:"confidence,omitempty"`
	Threshold      *float64     `json:"threshold,omitempty"`
	Reason         *Violation   `json:"reason,omitempty"`
	Action         string       `json:"action,omitempty"`
}

// Body renders r in the shape edge devices expect.
func (r *Result) Body() interface{} {
	switch r.Outcome {
	case OutcomeAccepted:
		ms := r.Duration.Milliseconds()
		n := len(r.Alarms)
		return ingestResponse{
			Success:        true,
			VitalID:        &r.Record.ID,
			SmoothedVitals: ReadingsFromMap(r.Smoothed),
			Confidence:     &r.Confidence,
			Duration:       &ms,
			Alarms:         &n,
		}
	case OutcomeValidationRejected:
		return ingestResponse{Error: "Validation failed", Details: r.FieldErrors}
	case OutcomePatientNotFound:
		return ingestResponse{Error: "Patient not found"}
	case OutcomeLowConfidence:
		return ingestResponse{
			Error:      "OCR confidence below threshold",
			Confidence: &r.Confidence,
			Threshold:  &r.Threshold,
			Action:     ActionManualEntry,
		}
	case OutcomeImplausible:
		return ingestResponse{
			Error:  "Implausible vital signs detected",
			Reason: r.Violation,
			Action: ActionClinicalReview,
		}
	}
	return ingestResponse{Error: "Failed to process vitals"}
}

func (h *Handler) Ingest(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}
	sub := DecodeSubmission(body)
	sub.Transport = "http"

	res := h.svc.Ingest(c.Request().Context(), sub)
	return c.JSON(res.HTTPStatus(), res.Body())
}

func (h *Handler) ListPatientVitals(c echo.Context) error {
	patientID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	since, err := pagination.TimeParam(c, "since")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, since, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
