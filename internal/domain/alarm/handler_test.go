package alarm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestHandler_ListPatientAlarms(t *testing.T) {
	svc, _, _ := newTestService(map[int64]Limits{3: {"spo2": {88, 100}, "hr": {100, 180}}})
	svc.Evaluate(context.Background(), 3, uuid.New(), map[string]float64{"spo2": 80, "hr": 190})
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?status=active", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("3")

	if err := h.ListPatientAlarms(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int      `json:"total"`
		Data  []*Alarm `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("expected 2 alarms, got %d", body.Total)
	}
}

func TestHandler_ListPatientAlarms_BadRequest(t *testing.T) {
	svc, _, _ := newTestService(nil)
	h := NewHandler(svc)
	e := echo.New()

	tests := []struct {
		id, query string
	}{
		{"abc", ""},
		{"3", "status=snoozed"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(tt.id)
		err := h.ListPatientAlarms(c)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("id=%s %s: expected 400, got %v", tt.id, tt.query, err)
		}
	}
}
