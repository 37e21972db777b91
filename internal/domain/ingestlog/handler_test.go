package ingestlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func TestHandler_GetStats(t *testing.T) {
	h, svc, e := newTestHandler()
	svc.Record(context.Background(), &Entry{SourceID: "cam-1", ValidationPassed: true})
	svc.Record(context.Background(), (&Entry{SourceID: "cam-1"}).Rejected(ErrorValidation, "bad"))

	req := httptest.NewRequest(http.MethodGet, "/?source_id=cam-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Total != 2 || st.ValidationErrors != 1 || st.AcceptanceRate != 0.5 {
		t.Errorf("unexpected stats body: %+v", st)
	}
}

func TestHandler_GetStats_BadSince(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?since=last-week", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.GetStats(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListLogs_FilterByPatient(t *testing.T) {
	h, svc, e := newTestHandler()
	svc.Record(context.Background(), &Entry{SourceID: "cam-1", PatientID: int64Ptr(1), ValidationPassed: true})
	svc.Record(context.Background(), &Entry{SourceID: "cam-2", PatientID: int64Ptr(2), ValidationPassed: true})

	req := httptest.NewRequest(http.MethodGet, "/?patient_id=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListLogs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 entry for patient 2, got %d", body.Total)
	}
}

func TestHandler_ListLogs_BadParams(t *testing.T) {
	h, _, e := newTestHandler()
	for _, q := range []string{"patient_id=abc", "error_type=timeout"} {
		req := httptest.NewRequest(http.MethodGet, "/?"+q, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		err := h.ListLogs(c)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", q, err)
		}
	}
}
