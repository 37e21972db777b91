package vitals

import (
	"strings"
	"testing"
)

func hasFieldError(errs []FieldError, field, contains string) bool {
	for _, e := range errs {
		if e.Field == field && strings.Contains(e.Message, contains) {
			return true
		}
	}
	return false
}

func TestDecodeSubmission_Valid(t *testing.T) {
	body := `{"patientId":12,"cameraId":"cam-bed-12","vitals":{"hr":142,"spo2":96,"bp":{"systolic":68}},
		"confidence":0.91,"inferenceTimeMs":87,"timestamp":"2026-03-01T08:00:00.123Z","monitorType":"philips_mx450",
		"metadata":{"ocr_engine":"paddle"}}`
	sub := DecodeSubmission([]byte(body))
	if errs := Validate(sub); len(errs) != 0 {
		t.Fatalf("expected no errors, got %+v", errs)
	}
	if *sub.PatientID != 12 || sub.CameraID != "cam-bed-12" || *sub.Vitals.HR != 142 || *sub.Vitals.BP.Systolic != 68 {
		t.Errorf("unexpected decode: %+v", sub)
	}
	if sub.Vitals.RR != nil {
		t.Error("expected absent rr to be nil")
	}
	if sub.Metadata["ocr_engine"] != "paddle" {
		t.Errorf("expected metadata to be kept, got %v", sub.Metadata)
	}
}

func TestDecodeSubmission_NonNumericVital(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":1,"cameraId":"c","vitals":{"hr":"fast"},"confidence":0.9}`))
	errs := Validate(sub)
	if !hasFieldError(errs, "vitals.hr", "must be a number") {
		t.Errorf("expected vitals.hr type error, got %+v", errs)
	}
}

func TestDecodeSubmission_TypeErrorReportedOnce(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":"abc","cameraId":"c","vitals":{"hr":140},"confidence":0.9}`))
	errs := Validate(sub)
	if len(errs) != 1 || errs[0].Field != "patientId" || errs[0].Message != "must be a number" {
		t.Fatalf("expected one patientId type error, got %+v", errs)
	}
}

func TestDecodeSubmission_AllTypeErrorsReported(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":1,"cameraId":"c","vitals":{"hr":"x","spo2":"y"},"confidence":"z"}`))
	errs := Validate(sub)
	for _, field := range []string{"vitals.hr", "vitals.spo2", "confidence"} {
		if !hasFieldError(errs, field, "must be a number") {
			t.Errorf("expected %s type error, got %+v", field, errs)
		}
	}
	if len(errs) != 3 {
		t.Errorf("expected exactly 3 errors, got %+v", errs)
	}
}

func TestDecodeSubmission_FractionalPatientID(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":1.5,"cameraId":"c","vitals":{"hr":140},"confidence":0.9}`))
	errs := Validate(sub)
	if len(errs) != 1 || !hasFieldError(errs, "patientId", "must be an integer") {
		t.Fatalf("expected one patientId integer error, got %+v", errs)
	}
}

func TestDecodeSubmission_InferenceTimeOutOfRange(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":1,"cameraId":"c","vitals":{"hr":140},"confidence":0.9,"inferenceTimeMs":3000000000}`))
	errs := Validate(sub)
	if len(errs) != 1 || !hasFieldError(errs, "inferenceTimeMs", "out of range") {
		t.Fatalf("expected inferenceTimeMs range error, got %+v", errs)
	}
}

func TestValidate_CameraIDLength(t *testing.T) {
	s := submission(1, strings.Repeat("c", MaxSourceIDLen), 0.9, &Readings{HR: fp(140)})
	if errs := Validate(s); len(errs) != 0 {
		t.Fatalf("expected %d characters to be accepted, got %+v", MaxSourceIDLen, errs)
	}
	s.CameraID += "c"
	if errs := Validate(s); !hasFieldError(errs, "cameraId", "at most 128 characters") {
		t.Errorf("expected cameraId length error, got %+v", errs)
	}
}

func TestDecodeSubmission_Malformed(t *testing.T) {
	sub := DecodeSubmission([]byte(`{"patientId":1,`))
	errs := Validate(sub)
	if len(errs) != 1 || errs[0].Field != "body" {
		t.Fatalf("expected a single body error, got %+v", errs)
	}
	snap := sub.snapshot()
	if snap["raw_body"] != `{"patientId":1,` {
		t.Errorf("expected raw body in snapshot, got %v", snap)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Submission {
		return submission(1, "cam-1", 0.9, &Readings{HR: fp(140)})
	}
	tests := []struct {
		name     string
		mutate   func(s *Submission)
		field    string
		contains string
	}{
		{"missing patient", func(s *Submission) { s.PatientID = nil }, "patientId", "required"},
		{"non-positive patient", func(s *Submission) { s.PatientID = ip(0) }, "patientId", "positive"},
		{"missing camera", func(s *Submission) { s.CameraID = "" }, "cameraId", "required"},
		{"missing vitals", func(s *Submission) { s.Vitals = nil }, "vitals", "required"},
		{"bp only", func(s *Submission) { s.Vitals = &Readings{BP: &BloodPressure{Systolic: fp(60)}} }, "vitals", "at least one vital sign must be provided"},
		{"missing confidence", func(s *Submission) { s.Confidence = nil }, "confidence", "required"},
		{"confidence above one", func(s *Submission) { s.Confidence = fp(1.2) }, "confidence", "between 0 and 1"},
		{"negative confidence", func(s *Submission) { s.Confidence = fp(-0.1) }, "confidence", "between 0 and 1"},
		{"negative inference time", func(s *Submission) { n := -1; s.InferenceTimeMs = &n }, "inferenceTimeMs", "non-negative"},
		{"bad timestamp", func(s *Submission) { ts := "yesterday"; s.Timestamp = &ts }, "timestamp", "ISO 8601"},
		{"unknown source", func(s *Submission) { s.Source = "webcam" }, "source", "invalid source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			errs := Validate(s)
			if !hasFieldError(errs, tt.field, tt.contains) {
				t.Errorf("expected %s error containing %q, got %+v", tt.field, tt.contains, errs)
			}
		})
	}

	if errs := Validate(valid()); len(errs) != 0 {
		t.Errorf("expected valid submission, got %+v", errs)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	errs := Validate(&Submission{})
	for _, field := range []string{"patientId", "cameraId", "vitals", "confidence"} {
		if !hasFieldError(errs, field, "") {
			t.Errorf("expected error for %s", field)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{"2026-03-01T08:00:00Z", "2026-03-01T08:00:00.123456+02:00", "2026-03-01T08:00:00.5"} {
		if _, err := parseTimestamp(s); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	got, _ := parseTimestamp("2026-03-01T10:00:00+02:00")
	if got.Hour() != 8 || got.Location().String() != "UTC" {
		t.Errorf("expected normalization to UTC, got %v", got)
	}
}

func TestConfidenceGate(t *testing.T) {
	g := ConfidenceGate{Threshold: 0.85}
	if g.Allow(0.80) {
		t.Error("expected 0.80 to be rejected")
	}
	if !g.Allow(0.85) || !g.Allow(0.99) {
		t.Error("expected values at or above threshold to pass")
	}
}
