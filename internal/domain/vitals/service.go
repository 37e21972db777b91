package vitals

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/domain/alarm"
	"github.com/nicu/nicu/internal/domain/escalation"
	"github.com/nicu/nicu/internal/domain/ingestlog"
	"github.com/nicu/nicu/internal/platform/metrics"
)

// Outcome is the terminal state of one submission.
type Outcome string

const (
	OutcomeAccepted           Outcome = "accepted"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomePatientNotFound    Outcome = "patient_not_found"
	OutcomeLowConfidence      Outcome = "low_confidence"
	OutcomeImplausible        Outcome = "implausible"
	OutcomeFailed             Outcome = "failed"
)

// Action codes returned to edge devices on 422.
const (
	ActionManualEntry    = "MANUAL_ENTRY_REQUIRED"
	ActionClinicalReview = "CLINICAL_REVIEW_REQUIRED"
)

var errTimeout = errors.New("ingestion timed out")

// Result is what Ingest returns for every submission: one outcome plus the
// detail relevant to it.
type Result struct {
	Outcome     Outcome
	Record      *VitalRecord
	Smoothed    map[string]float64
	Alarms      []*alarm.Alarm
	FieldErrors []FieldError
	Confidence  float64
	Threshold   float64
	Violation   *Violation
	Err         error
	Duration    time.Duration
}

func (r *Result) HTTPStatus() int {
	switch r.Outcome {
	case OutcomeAccepted:
		return http.StatusOK
	case OutcomeValidationRejected:
		return http.StatusBadRequest
	case OutcomePatientNotFound:
		return http.StatusNotFound
	case OutcomeLowConfidence, OutcomeImplausible:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// AlarmEvaluator creates alarms for limit breaches of a stored reading. On
// error it still returns the alarms it stored before failing.
type AlarmEvaluator interface {
	Evaluate(ctx context.Context, patientID int64, recordID uuid.UUID, vitals map[string]float64) ([]*alarm.Alarm, error)
}

// Escalator notifies staff; it must not fail the caller.
type Escalator interface {
	Escalate(ctx context.Context, esc escalation.Escalation) int
}

// AuditRecorder writes the ingestion log; it must not fail the caller.
type AuditRecorder interface {
	Record(ctx context.Context, e *ingestlog.Entry)
}

type Config struct {
	ConfidenceThreshold float64
	SmoothingEnabled    bool
	WindowSize          int
	Timeout             time.Duration
}

type Service struct {
	records  RecordRepository
	patients PatientRepository
	alarms   AlarmEvaluator
	notifier Escalator
	audit    AuditRecorder
	gate     ConfidenceGate
	smoother Smoother
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(records RecordRepository, patients PatientRepository, alarms AlarmEvaluator,
	notifier Escalator, audit AuditRecorder, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		records:  records,
		patients: patients,
		alarms:   alarms,
		notifier: notifier,
		audit:    audit,
		gate:     ConfidenceGate{Threshold: cfg.ConfidenceThreshold},
		smoother: Smoother{Enabled: cfg.SmoothingEnabled, WindowSize: cfg.WindowSize},
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "vitals_ingest").Logger(),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest runs one submission through validation, the confidence gate,
// plausibility, smoothing, storage, alarm evaluation and escalation, in
// that order, under the configured timeout. Exactly one ingestion log entry
// is written for it whatever the outcome.
func (s *Service) Ingest(ctx context.Context, sub *Submission) *Result {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := s.run(ctx, sub, start)
	if res.Outcome == OutcomeFailed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Err = errTimeout
	}
	res.Duration = time.Since(start)

	s.audit.Record(ctx, s.auditEntry(sub, res))
	s.metrics.IngestObserved(string(res.Outcome), sub.Transport, res.Duration)
	s.logResult(sub, res)
	return res
}

func (s *Service) run(ctx context.Context, sub *Submission, start time.Time) *Result {
	res := &Result{Threshold: s.gate.Threshold}

	if errs := Validate(sub); len(errs) > 0 {
		res.Outcome = OutcomeValidationRejected
		res.FieldErrors = errs
		return res
	}
	patientID := *sub.PatientID
	res.Confidence = *sub.Confidence
	s.metrics.ConfidenceObserved(res.Confidence)

	exists, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return s.fail(res, err)
	}
	if !exists {
		res.Outcome = OutcomePatientNotFound
		return res
	}

	if !s.gate.Allow(res.Confidence) {
		res.Outcome = OutcomeLowConfidence
		s.notifier.Escalate(ctx, escalation.ManualEntry(patientID, sub.CameraID, res.Confidence, s.gate.Threshold))
		return res
	}

	raw := sub.Vitals.Map()
	if v := CheckPlausibility(raw); v != nil {
		res.Outcome = OutcomeImplausible
		res.Violation = v
		s.notifier.Escalate(ctx, escalation.ClinicalReview(patientID, sub.CameraID, v.Parameter, v.Value, v.Range))
		return res
	}

	var history []map[string]float64
	if n := s.smoother.HistoryLen(); n > 0 {
		history, err = s.records.RecentRaw(ctx, patientID, sub.CameraID, n)
		if err != nil {
			return s.fail(res, err)
		}
	}
	smoothed, windows := s.smoother.Smooth(raw, history)
	res.Smoothed = smoothed

	rec := s.buildRecord(sub, raw, smoothed, windows, start)
	if err := s.records.Create(ctx, rec); err != nil {
		return s.fail(res, err)
	}
	res.Record = rec

	// Alarms stored before an evaluation error are live and still escalate.
	alarms, err := s.alarms.Evaluate(ctx, patientID, rec.ID, smoothed)
	res.Alarms = alarms
	for _, a := range alarms {
		s.notifier.Escalate(ctx, escalation.AlarmTriggered(patientID, a.ID.String(), string(a.Type),
			a.Parameter, a.Value, a.Threshold, a.Message))
	}
	if err != nil {
		return s.fail(res, err)
	}

	res.Outcome = OutcomeAccepted
	return res
}

func (s *Service) fail(res *Result, err error) *Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}

func (s *Service) buildRecord(sub *Submission, raw, smoothed map[string]float64, windows map[string]WindowStats, start time.Time) *VitalRecord {
	received := s.now()
	captured := received
	if sub.Timestamp != nil {
		if t, err := parseTimestamp(*sub.Timestamp); err == nil {
			captured = t
		}
	}
	source := sub.Source
	if source == "" {
		source = SourceCamera
	}
	confidence := *sub.Confidence

	rec := &VitalRecord{
		PatientID:  *sub.PatientID,
		Source:     source,
		SourceID:   sub.CameraID,
		Confidence: &confidence,
		RecordedAt: captured,
		SourceMetadata: Provenance{
			DeviceID:         sub.CameraID,
			MonitorType:      deref(sub.MonitorType),
			RawImageRef:      deref(sub.RawImagePath),
			Raw:              raw,
			Smoothed:         smoothed,
			Window:           windows,
			SmoothingEnabled: s.smoother.Enabled,
			WindowSize:       s.smoother.WindowSize,
			Confidence:       confidence,
			InferenceTimeMs:  sub.InferenceTimeMs,
			CapturedAt:       captured,
			ReceivedAt:       received,
			ProcessingMs:     float64(time.Since(start).Microseconds()) / 1000,
			Transport:        sub.Transport,
			DeviceMetadata:   sub.Metadata,
		},
	}
	rec.setValues(smoothed)
	return rec
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Service) auditEntry(sub *Submission, res *Result) *ingestlog.Entry {
	// Typed columns only take values that fit them; the snapshot keeps the
	// submission as received.
	sourceID := sub.CameraID
	if len(sourceID) > MaxSourceIDLen {
		sourceID = sourceID[:MaxSourceIDLen]
	}
	var inference *int
	if sub.InferenceTimeMs != nil && *sub.InferenceTimeMs >= 0 && *sub.InferenceTimeMs <= math.MaxInt32 {
		inference = sub.InferenceTimeMs
	}
	e := &ingestlog.Entry{
		PatientID:        sub.PatientID,
		SourceID:         sourceID,
		Confidence:       sub.Confidence,
		InferenceTimeMs:  inference,
		ValidationPassed: res.Outcome == OutcomeAccepted,
		RawPayload:       sub.snapshot(),
	}
	ms := int(res.Duration.Milliseconds())
	e.DurationMs = &ms
	if res.Record != nil {
		id := res.Record.ID
		e.VitalRecordID = &id
	}

	switch res.Outcome {
	case OutcomeValidationRejected:
		e.Rejected(ingestlog.ErrorValidation, "validation failed")
		e.RawPayload["validation_errors"] = res.FieldErrors
	case OutcomePatientNotFound:
		e.Rejected(ingestlog.ErrorValidation, "patient not found")
	case OutcomeLowConfidence:
		e.Rejected(ingestlog.ErrorLowConf, "confidence below threshold")
		e.RawPayload["threshold"] = res.Threshold
	case OutcomeImplausible:
		e.Rejected(ingestlog.ErrorImplausible, "implausible vital signs detected")
		e.RawPayload["plausibility"] = res.Violation
	case OutcomeFailed:
		msg := "processing failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		e.Rejected(ingestlog.ErrorProcessing, msg)
	}
	return e
}

func (s *Service) logResult(sub *Submission, res *Result) {
	var evt *zerolog.Event
	switch res.Outcome {
	case OutcomeAccepted:
		evt = s.logger.Info()
	case OutcomeFailed:
		evt = s.logger.Error().Err(res.Err)
	default:
		evt = s.logger.Warn()
	}
	if sub.PatientID != nil {
		evt = evt.Int64("patient_id", *sub.PatientID)
	}
	if res.Record != nil {
		evt = evt.Str("vital_id", res.Record.ID.String())
	}
	if res.Violation != nil {
		evt = evt.Str("parameter", res.Violation.Parameter).Float64("value", res.Violation.Value)
	}
	evt.Str("source_id", sub.CameraID).
		Str("transport", sub.Transport).
		Str("outcome", string(res.Outcome)).
		Int("alarms", len(res.Alarms)).
		Dur("duration", res.Duration).
		Msg("vitals submission processed")
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64, since time.Time, limit, offset int) ([]*VitalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, since, limit, offset)
}
