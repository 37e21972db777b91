package vitals

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// FieldError is one structural problem with a submission.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const maxSnapshotBody = 4096

// MaxSourceIDLen is the width of the source_id columns.
const MaxSourceIDLen = 128

// DecodeSubmission parses a JSON body. It never fails: type mismatches and
// malformed JSON are kept on the submission and reported by Validate, so
// that every body received still flows through the pipeline and its audit.
func DecodeSubmission(body []byte) *Submission {
	var sub Submission
	err := json.Unmarshal(body, &sub)
	if err == nil {
		return &sub
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		// encoding/json reports only the first mismatch; walk the document
		// to report all of them.
		sub.decodeErrors = typeErrors(body)
		if len(sub.decodeErrors) == 0 {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			sub.decodeErrors = []FieldError{{Field: field, Message: fmt.Sprintf("must be a %s", typeName(typeErr))}}
		}
		return &sub
	}

	raw := string(body)
	if len(raw) > maxSnapshotBody {
		raw = raw[:maxSnapshotBody]
	}
	return &Submission{
		malformed:    true,
		rawBody:      raw,
		decodeErrors: []FieldError{{Field: "body", Message: "malformed JSON"}},
	}
}

func typeName(e *json.UnmarshalTypeError) string {
	switch e.Type.Kind() {
	case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int64, reflect.Int32:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Map, reflect.Struct:
		return "JSON object"
	}
	return e.Type.String()
}

type jsonKind int

const (
	kindNumber jsonKind = iota
	kindInteger
	kindString
	kindObject
)

// submissionFields lists the typed paths of a submission body in report
// order.
var submissionFields = []struct {
	path string
	kind jsonKind
}{
	{"patientId", kindInteger},
	{"cameraId", kindString},
	{"source", kindString},
	{"vitals", kindObject},
	{"vitals.hr", kindNumber},
	{"vitals.spo2", kindNumber},
	{"vitals.rr", kindNumber},
	{"vitals.temp", kindNumber},
	{"vitals.bp", kindObject},
	{"vitals.bp.systolic", kindNumber},
	{"vitals.bp.diastolic", kindNumber},
	{"vitals.bp.map", kindNumber},
	{"confidence", kindNumber},
	{"inferenceTimeMs", kindInteger},
	{"timestamp", kindString},
	{"monitorType", kindString},
	{"rawImagePath", kindString},
	{"metadata", kindObject},
}

func typeErrors(body []byte) []FieldError {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	var errs []FieldError
	for _, f := range submissionFields {
		v, ok := lookupPath(doc, f.path)
		if !ok || v == nil {
			continue
		}
		switch f.kind {
		case kindNumber:
			if _, isNum := v.(float64); !isNum {
				errs = append(errs, FieldError{f.path, "must be a number"})
			}
		case kindInteger:
			n, isNum := v.(float64)
			if !isNum {
				errs = append(errs, FieldError{f.path, "must be a number"})
			} else if n != math.Trunc(n) {
				errs = append(errs, FieldError{f.path, "must be an integer"})
			} else if math.Abs(n) >= 1<<63 {
				errs = append(errs, FieldError{f.path, "is out of range"})
			}
		case kindString:
			if _, isStr := v.(string); !isStr {
				errs = append(errs, FieldError{f.path, "must be a string"})
			}
		case kindObject:
			if _, isObj := v.(map[string]interface{}); !isObj {
				errs = append(errs, FieldError{f.path, "must be a JSON object"})
			}
		}
	}
	return errs
}

func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// hasDecodeError reports whether field, or anything nested under it, failed
// to decode. Such fields hold zero values and are not checked further.
func (s *Submission) hasDecodeError(field string) bool {
	for _, e := range s.decodeErrors {
		if e.Field == field || strings.HasPrefix(e.Field, field+".") {
			return true
		}
	}
	return false
}

// Validate reports every structural problem with s; an empty result means
// the submission may proceed to the confidence gate.
func Validate(s *Submission) []FieldError {
	errs := append([]FieldError(nil), s.decodeErrors...)
	if s.malformed {
		return errs
	}

	switch {
	case s.hasDecodeError("patientId"):
	case s.PatientID == nil:
		errs = append(errs, FieldError{"patientId", "patientId is required"})
	case *s.PatientID <= 0:
		errs = append(errs, FieldError{"patientId", "patientId must be a positive integer"})
	}

	switch {
	case s.hasDecodeError("cameraId"):
	case s.CameraID == "":
		errs = append(errs, FieldError{"cameraId", "cameraId is required"})
	case len(s.CameraID) > MaxSourceIDLen:
		errs = append(errs, FieldError{"cameraId", fmt.Sprintf("cameraId must be at most %d characters", MaxSourceIDLen)})
	}

	if s.Source != "" && !s.hasDecodeError("source") && !s.Source.Valid() {
		errs = append(errs, FieldError{"source", fmt.Sprintf("invalid source: %s", s.Source)})
	}

	switch {
	case s.hasDecodeError("vitals"):
	case s.Vitals == nil:
		errs = append(errs, FieldError{"vitals", "vitals is required"})
	case !s.Vitals.hasPrimary():
		errs = append(errs, FieldError{"vitals", "at least one vital sign must be provided"})
	}

	switch {
	case s.hasDecodeError("confidence"):
	case s.Confidence == nil:
		errs = append(errs, FieldError{"confidence", "confidence is required"})
	case *s.Confidence < 0 || *s.Confidence > 1:
		errs = append(errs, FieldError{"confidence", "confidence must be between 0 and 1"})
	}

	switch {
	case s.InferenceTimeMs == nil || s.hasDecodeError("inferenceTimeMs"):
	case *s.InferenceTimeMs < 0:
		errs = append(errs, FieldError{"inferenceTimeMs", "inferenceTimeMs must be non-negative"})
	case *s.InferenceTimeMs > math.MaxInt32:
		errs = append(errs, FieldError{"inferenceTimeMs", "inferenceTimeMs is out of range"})
	}

	if s.Timestamp != nil && !s.hasDecodeError("timestamp") {
		if _, err := parseTimestamp(*s.Timestamp); err != nil {
			errs = append(errs, FieldError{"timestamp", "timestamp must be an ISO 8601 date-time"})
		}
	}

	return errs
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999-0700",
}

// parseTimestamp accepts RFC 3339 plus the zone-less form some edge
// scripts emit, which is taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ConfidenceGate admits submissions whose OCR confidence is at least
// Threshold.
type ConfidenceGate struct {
	Threshold float64
}

func (g ConfidenceGate) Allow(confidence float64) bool {
	return confidence >= g.Threshold
}
