package ingestlog

import (
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies why a submission was not accepted.
type ErrorType string

const (
	ErrorValidation  ErrorType = "validation_error"
	ErrorLowConf     ErrorType = "low_confidence"
	ErrorImplausible ErrorType = "implausible_reading"
	// ErrorProcessing covers persistence failures and pipeline timeouts.
	ErrorProcessing ErrorType = "processing_error"
)

func (t ErrorType) Valid() bool {
	switch t {
	case ErrorValidation, ErrorLowConf, ErrorImplausible, ErrorProcessing:
		return true
	}
	return false
}

// Entry maps to the ingestion_log table. Exactly one row exists per
// submission received, whatever its outcome.
type Entry struct {
	ID               uuid.UUID              `db:"id" json:"id"`
	PatientID        *int64                 `db:"patient_id" json:"patient_id,omitempty"`
	SourceID         string                 `db:"source_id" json:"source_id"`
	Confidence       *float64               `db:"confidence" json:"confidence,omitempty"`
	InferenceTimeMs  *int                   `db:"inference_time_ms" json:"inference_time_ms,omitempty"`
	ValidationPassed bool                   `db:"validation_passed" json:"validation_passed"`
	ErrorType        *ErrorType             `db:"error_type" json:"error_type,omitempty"`
	Error            *string                `db:"error" json:"error,omitempty"`
	RawPayload       map[string]interface{} `db:"raw_payload" json:"raw_payload"`
	VitalRecordID    *uuid.UUID             `db:"vital_record_id" json:"vital_record_id,omitempty"`
	DurationMs       *int                   `db:"duration_ms" json:"duration_ms,omitempty"`
	ProcessedAt      time.Time              `db:"processed_at" json:"processed_at"`
}

// Rejected marks the entry as failed with the given classification.
func (e *Entry) Rejected(t ErrorType, msg string) *Entry {
	e.ValidationPassed = false
	e.ErrorType = &t
	e.Error = &msg
	return e
}

// ListFilter narrows audit log listings. Zero values match everything.
type ListFilter struct {
	SourceID  string
	PatientID *int64
	ErrorType ErrorType
	Since     time.Time
}

// Stats summarizes device health over the audit log.
type Stats struct {
	SourceID           string     `json:"source_id,omitempty"`
	Since              *time.Time `json:"since,omitempty"`
	Total              int        `json:"total"`
	Accepted           int        `json:"accepted"`
	ValidationErrors   int        `json:"validation_errors"`
	LowConfidence      int        `json:"low_confidence"`
	Implausible        int        `json:"implausible"`
	ProcessingErrors   int        `json:"processing_errors"`
	AcceptanceRate     float64    `json:"acceptance_rate"`
	AvgConfidence      *float64   `json:"avg_confidence,omitempty"`
	AvgInferenceTimeMs *float64   `json:"avg_inference_time_ms,omitempty"`
	LastSeen           *time.Time `json:"last_seen,omitempty"`
}

func (s *Stats) computeRate() {
	if s.Total == 0 {
		s.AcceptanceRate = 0
		return
	}
	s.AcceptanceRate = float64(s.Accepted) / float64(s.Total)
}
