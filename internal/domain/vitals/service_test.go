package vitals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/domain/alarm"
	"github.com/nicu/nicu/internal/domain/escalation"
	"github.com/nicu/nicu/internal/domain/ingestlog"
)

// -- Mock Repositories --

type mockRecordRepo struct {
	mu        sync.Mutex
	items     []*VitalRecord
	createErr error
	// block makes RecentRaw wait for context cancellation.
	block bool
}

func (m *mockRecordRepo) Create(_ context.Context, v *VitalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	m.items = append(m.items, v)
	return nil
}

func (m *mockRecordRepo) RecentRaw(ctx context.Context, patientID int64, sourceID string, n int) ([]map[string]float64, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*VitalRecord
	for i := len(m.items) - 1; i >= 0; i-- {
		v := m.items[i]
		if v.PatientID == patientID && v.SourceID == sourceID {
			matched = append(matched, v)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].RecordedAt.After(matched[j].RecordedAt) })
	var out []map[string]float64
	for _, v := range matched {
		if len(out) == n {
			break
		}
		out = append(out, v.SourceMetadata.Raw)
	}
	return out, nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID int64, since time.Time, limit, offset int) ([]*VitalRecord, int, error) {
	var out []*VitalRecord
	for _, v := range m.items {
		if v.PatientID == patientID && !v.RecordedAt.Before(since) {
			out = append(out, v)
		}
	}
	return out, len(out), nil
}

type mockPatientRepo struct {
	ids map[int64]bool
	err error
}

func (m *mockPatientRepo) Exists(_ context.Context, id int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.ids[id], nil
}

type mockLimitsRepo struct{ limits map[int64]alarm.Limits }

func (m *mockLimitsRepo) GetLimits(_ context.Context, id int64) (alarm.Limits, error) {
	return m.limits[id], nil
}

type mockAlarmRepo struct {
	items  []*alarm.Alarm
	failOn int // 1-based Create call that fails; 0 disables
	calls  int
}

func (m *mockAlarmRepo) Create(_ context.Context, a *alarm.Alarm) error {
	m.calls++
	if m.failOn > 0 && m.calls == m.failOn {
		return fmt.Errorf("insert failed")
	}
	a.ID = uuid.New()
	m.items = append(m.items, a)
	return nil
}

func (m *mockAlarmRepo) ListByPatient(_ context.Context, id int64, status alarm.Status, limit, offset int) ([]*alarm.Alarm, int, error) {
	return m.items, len(m.items), nil
}

type fakeEscalator struct {
	mu   sync.Mutex
	sent []escalation.Escalation
}

func (f *fakeEscalator) Escalate(_ context.Context, esc escalation.Escalation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, esc)
	return 1
}

func (f *fakeEscalator) kinds() []escalation.Kind {
	var out []escalation.Kind
	for _, e := range f.sent {
		out = append(out, e.Kind)
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*ingestlog.Entry
	ctxErrs []error
}

func (f *fakeAudit) Record(ctx context.Context, e *ingestlog.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.entries = append(f.entries, e)
}

// -- Fixture --

type fixture struct {
	svc      *Service
	records  *mockRecordRepo
	patients *mockPatientRepo
	limits   *mockLimitsRepo
	alarms   *mockAlarmRepo
	notifier *fakeEscalator
	audit    *fakeAudit
}

func defaultConfig() Config {
	return Config{ConfidenceThreshold: 0.85, SmoothingEnabled: true, WindowSize: 5, Timeout: 5 * time.Second}
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		records:  &mockRecordRepo{},
		patients: &mockPatientRepo{ids: map[int64]bool{1: true, 2: true}},
		limits:   &mockLimitsRepo{limits: map[int64]alarm.Limits{}},
		alarms:   &mockAlarmRepo{},
		notifier: &fakeEscalator{},
		audit:    &fakeAudit{},
	}
	evaluator := alarm.NewService(f.limits, f.alarms, zerolog.Nop(), nil)
	f.svc = NewService(f.records, f.patients, evaluator, f.notifier, f.audit, cfg, zerolog.Nop(), nil)
	return f
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func submission(patientID int64, camera string, confidence float64, r *Readings) *Submission {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	inf := 95
	return &Submission{
		PatientID:       ip(patientID),
		CameraID:        camera,
		Vitals:          r,
		Confidence:      fp(confidence),
		InferenceTimeMs: &inf,
		Timestamp:       &ts,
		Transport:       "http",
	}
}

func normalReadings() *Readings {
	return &Readings{HR: fp(145), SpO2: fp(96), RR: fp(45), Temp: fp(36.8)}
}

func (f *fixture) onlyAudit(t *testing.T) *ingestlog.Entry {
	t.Helper()
	if len(f.audit.entries) != 1 {
		t.Fatalf("expected exactly 1 ingestion log entry, got %d", len(f.audit.entries))
	}
	return f.audit.entries[0]
}

// -- Tests --

func TestIngest_Accepted(t *testing.T) {
	f := newFixture(defaultConfig())
	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.93, normalReadings()))

	if res.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s (%v)", res.Outcome, res.Err)
	}
	if res.HTTPStatus() != 200 {
		t.Errorf("expected 200, got %d", res.HTTPStatus())
	}
	if len(f.records.items) != 1 {
		t.Fatalf("expected 1 record, got %d", len(f.records.items))
	}
	rec := f.records.items[0]
	if rec.Source != SourceCamera || rec.SourceID != "cam-1" {
		t.Errorf("unexpected source: %s/%s", rec.Source, rec.SourceID)
	}
	if rec.SourceMetadata.Raw[ParamHR] != 145 || rec.SourceMetadata.Confidence != 0.93 {
		t.Errorf("provenance missing raw values: %+v", rec.SourceMetadata)
	}
	if !rec.SourceMetadata.SmoothingEnabled || rec.SourceMetadata.WindowSize != 5 {
		t.Errorf("provenance missing smoothing config: %+v", rec.SourceMetadata)
	}

	e := f.onlyAudit(t)
	if !e.ValidationPassed || e.ErrorType != nil {
		t.Errorf("expected passed audit entry, got %+v", e)
	}
	if e.VitalRecordID == nil || *e.VitalRecordID != rec.ID {
		t.Error("expected audit entry linked to record")
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("expected no escalations, got %v", f.notifier.kinds())
	}
}

func TestIngest_ValidationRejected(t *testing.T) {
	f := newFixture(defaultConfig())
	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, &Readings{}))

	if res.Outcome != OutcomeValidationRejected || res.HTTPStatus() != 400 {
		t.Fatalf("expected validation rejection, got %s", res.Outcome)
	}
	found := false
	for _, fe := range res.FieldErrors {
		if fe.Message == "at least one vital sign must be provided" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing vitals message, got %+v", res.FieldErrors)
	}
	if len(f.records.items) != 0 || len(f.notifier.sent) != 0 {
		t.Error("validation failure must not store or escalate")
	}
	e := f.onlyAudit(t)
	if e.ValidationPassed || *e.ErrorType != ingestlog.ErrorValidation {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestIngest_LowConfidence(t *testing.T) {
	f := newFixture(defaultConfig())
	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.80, normalReadings()))

	if res.Outcome != OutcomeLowConfidence || res.HTTPStatus() != 422 {
		t.Fatalf("expected low confidence rejection, got %s", res.Outcome)
	}
	body := res.Body().(ingestResponse)
	if body.Action != ActionManualEntry || *body.Confidence != 0.80 || *body.Threshold != 0.85 {
		t.Errorf("unexpected body: %+v", body)
	}
	if len(f.records.items) != 0 {
		t.Error("low confidence reading must not be stored")
	}
	if k := f.notifier.kinds(); len(k) != 1 || k[0] != escalation.KindManualEntry {
		t.Errorf("expected one manual entry escalation, got %v", k)
	}
	e := f.onlyAudit(t)
	if *e.ErrorType != ingestlog.ErrorLowConf || e.RawPayload["threshold"] != 0.85 {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestIngest_ThresholdIsInclusive(t *testing.T) {
	f := newFixture(defaultConfig())
	if res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.85, normalReadings())); res.Outcome != OutcomeAccepted {
		t.Errorf("expected confidence equal to threshold to pass, got %s", res.Outcome)
	}
}

func TestIngest_Implausible(t *testing.T) {
	f := newFixture(defaultConfig())
	r := normalReadings()
	r.HR = fp(250)
	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, r))

	if res.Outcome != OutcomeImplausible || res.HTTPStatus() != 422 {
		t.Fatalf("expected implausible rejection, got %s", res.Outcome)
	}
	body := res.Body().(ingestResponse)
	if body.Action != ActionClinicalReview {
		t.Errorf("expected %s, got %s", ActionClinicalReview, body.Action)
	}
	if body.Reason.Parameter != "hr" || body.Reason.Range != "80-200" || body.Reason.Value != 250 {
		t.Errorf("unexpected reason: %+v", body.Reason)
	}
	if len(f.records.items) != 0 {
		t.Error("implausible reading must not be stored")
	}
	if k := f.notifier.kinds(); len(k) != 1 || k[0] != escalation.KindClinicalReview {
		t.Errorf("expected one clinical review escalation, got %v", k)
	}
	e := f.onlyAudit(t)
	if *e.ErrorType != ingestlog.ErrorImplausible || e.RawPayload["plausibility"] == nil {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestIngest_PatientNotFound(t *testing.T) {
	f := newFixture(defaultConfig())
	res := f.svc.Ingest(context.Background(), submission(99, "cam-1", 0.95, normalReadings()))

	if res.Outcome != OutcomePatientNotFound || res.HTTPStatus() != 404 {
		t.Fatalf("expected patient not found, got %s", res.Outcome)
	}
	e := f.onlyAudit(t)
	if *e.ErrorType != ingestlog.ErrorValidation {
		t.Errorf("expected validation_error, got %s", *e.ErrorType)
	}
}

func TestIngest_SmoothsSpO2OverWindow(t *testing.T) {
	f := newFixture(defaultConfig())
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var last *Result
	for i, v := range []float64{94, 95, 93, 96, 94} {
		sub := submission(1, "cam-1", 0.95, &Readings{SpO2: fp(v)})
		ts := base.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		sub.Timestamp = &ts
		last = f.svc.Ingest(context.Background(), sub)
		if last.Outcome != OutcomeAccepted {
			t.Fatalf("reading %d: expected accepted, got %s", i, last.Outcome)
		}
	}

	rec := f.records.items[4]
	if rec.SpO2 == nil || *rec.SpO2 != 94 {
		t.Errorf("expected stored smoothed SpO2 94, got %v", rec.SpO2)
	}
	if rec.SourceMetadata.Raw[ParamSpO2] != 94 {
		t.Errorf("expected raw SpO2 94 in provenance, got %v", rec.SourceMetadata.Raw[ParamSpO2])
	}
	w := rec.SourceMetadata.Window[ParamSpO2]
	if w.Count != 5 || w.Median != 94 {
		t.Errorf("unexpected window stats: %+v", w)
	}
	if *ReadingsFromMap(last.Smoothed).SpO2 != 94 {
		t.Error("expected smoothed vitals in result")
	}
}

func TestIngest_WindowIsPerSourceDevice(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	f.svc.Ingest(ctx, submission(1, "cam-other", 0.95, &Readings{HR: fp(180)}))
	f.svc.Ingest(ctx, submission(1, "cam-other", 0.95, &Readings{HR: fp(180)}))
	f.svc.Ingest(ctx, submission(1, "cam-1", 0.95, &Readings{HR: fp(120)}))

	rec := f.records.items[2]
	if *rec.HeartRate != 120 {
		t.Errorf("expected readings from another device to be ignored, got %v", *rec.HeartRate)
	}
}

func TestIngest_SmoothingDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.SmoothingEnabled = false
	f := newFixture(cfg)
	ctx := context.Background()
	f.svc.Ingest(ctx, submission(1, "cam-1", 0.95, &Readings{HR: fp(150)}))
	f.svc.Ingest(ctx, submission(1, "cam-1", 0.95, &Readings{HR: fp(110)}))

	rec := f.records.items[1]
	if *rec.HeartRate != 110 {
		t.Errorf("expected raw value with smoothing disabled, got %v", *rec.HeartRate)
	}
	if rec.SourceMetadata.Window != nil {
		t.Error("expected no window stats when smoothing is disabled")
	}
}

func TestIngest_BloodPressurePassesThrough(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	r := normalReadings()
	r.BP = &BloodPressure{Systolic: fp(70), Diastolic: fp(40), MAP: fp(50)}
	f.svc.Ingest(ctx, submission(1, "cam-1", 0.95, r))
	r2 := normalReadings()
	r2.BP = &BloodPressure{Systolic: fp(60)}
	f.svc.Ingest(ctx, submission(1, "cam-1", 0.95, r2))

	rec := f.records.items[1]
	if *rec.BPSystolic != 60 {
		t.Errorf("expected unsmoothed systolic 60, got %v", *rec.BPSystolic)
	}
	if rec.BPDiastolic != nil || rec.BPMap != nil {
		t.Error("expected absent BP components to stay absent")
	}
}

func TestIngest_CriticalAlarmAndEscalation(t *testing.T) {
	f := newFixture(defaultConfig())
	f.limits.limits[1] = alarm.Limits{"spo2": {88, 100}}

	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, &Readings{SpO2: fp(85)}))
	if res.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", res.Outcome)
	}
	if len(f.alarms.items) != 1 {
		t.Fatalf("expected exactly 1 alarm, got %d", len(f.alarms.items))
	}
	a := f.alarms.items[0]
	if a.Type != alarm.TypeCritical || a.Parameter != "spo2" || a.Threshold != 88 {
		t.Errorf("unexpected alarm: %+v", a)
	}
	if k := f.notifier.kinds(); len(k) != 1 || k[0] != escalation.KindAlarm {
		t.Errorf("expected one alarm escalation, got %v", k)
	}
	if f.notifier.sent[0].Priority != escalation.PriorityUrgent {
		t.Errorf("expected urgent priority for critical alarm, got %s", f.notifier.sent[0].Priority)
	}
}

func TestIngest_PulseRateLimitRaisesWarning(t *testing.T) {
	f := newFixture(defaultConfig())
	f.limits.limits[1] = alarm.Limits{"pr": {100, 180}}

	f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, &Readings{HR: fp(190)}))
	if len(f.alarms.items) != 1 || f.alarms.items[0].Type != alarm.TypeWarning {
		t.Fatalf("expected one warning alarm, got %+v", f.alarms.items)
	}
}

// Identical submissions are not deduplicated: each creates its own record
// and alarm. This documents current behavior rather than a requirement.
func TestIngest_NotIdempotent(t *testing.T) {
	cfg := defaultConfig()
	cfg.SmoothingEnabled = false
	f := newFixture(cfg)
	f.limits.limits[1] = alarm.Limits{"spo2": {88, 100}}
	sub := submission(1, "cam-1", 0.95, &Readings{SpO2: fp(85)})

	f.svc.Ingest(context.Background(), sub)
	f.svc.Ingest(context.Background(), sub)

	if len(f.records.items) != 2 {
		t.Errorf("expected 2 records, got %d", len(f.records.items))
	}
	if len(f.alarms.items) != 2 {
		t.Errorf("expected 2 alarms, got %d", len(f.alarms.items))
	}
	if len(f.audit.entries) != 2 {
		t.Errorf("expected 2 audit entries, got %d", len(f.audit.entries))
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	f := newFixture(defaultConfig())
	f.records.createErr = fmt.Errorf("connection reset")

	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, normalReadings()))
	if res.Outcome != OutcomeFailed || res.HTTPStatus() != 500 {
		t.Fatalf("expected failure, got %s", res.Outcome)
	}
	e := f.onlyAudit(t)
	if *e.ErrorType != ingestlog.ErrorProcessing || e.ValidationPassed {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestIngest_AlarmStoreFailureStillEscalatesStoredAlarms(t *testing.T) {
	cfg := defaultConfig()
	cfg.SmoothingEnabled = false
	f := newFixture(cfg)
	f.limits.limits[1] = alarm.Limits{"hr": {150, 180}, "spo2": {97, 100}}
	f.alarms.failOn = 2

	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, normalReadings()))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s", res.Outcome)
	}
	if len(res.Alarms) != 1 || len(f.alarms.items) != 1 {
		t.Fatalf("expected the stored alarm on the result, got %d returned / %d stored", len(res.Alarms), len(f.alarms.items))
	}
	if k := f.notifier.kinds(); len(k) != 1 || k[0] != escalation.KindAlarm {
		t.Errorf("expected the stored alarm to escalate, got %v", k)
	}
	if *f.onlyAudit(t).ErrorType != ingestlog.ErrorProcessing {
		t.Error("expected processing_error audit entry")
	}
}

func TestIngest_AuditFitsColumns(t *testing.T) {
	f := newFixture(defaultConfig())
	sub := submission(1, strings.Repeat("c", MaxSourceIDLen+10), 0.95, normalReadings())
	big := math.MaxInt32 + 1
	sub.InferenceTimeMs = &big

	res := f.svc.Ingest(context.Background(), sub)
	if res.Outcome != OutcomeValidationRejected {
		t.Fatalf("expected validation rejection, got %s", res.Outcome)
	}
	e := f.onlyAudit(t)
	if len(e.SourceID) != MaxSourceIDLen {
		t.Errorf("expected source_id truncated to %d, got %d", MaxSourceIDLen, len(e.SourceID))
	}
	if e.InferenceTimeMs != nil {
		t.Errorf("expected out-of-range inference time left off the typed column, got %d", *e.InferenceTimeMs)
	}
}

func TestIngest_PatientLookupFailure(t *testing.T) {
	f := newFixture(defaultConfig())
	f.patients.err = fmt.Errorf("db unreachable")

	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, normalReadings()))
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %s", res.Outcome)
	}
	if *f.onlyAudit(t).ErrorType != ingestlog.ErrorProcessing {
		t.Error("expected processing_error audit entry")
	}
}

func TestIngest_Timeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	f := newFixture(cfg)
	f.records.block = true

	res := f.svc.Ingest(context.Background(), submission(1, "cam-1", 0.95, normalReadings()))
	if res.Outcome != OutcomeFailed || res.Err != errTimeout {
		t.Fatalf("expected timeout failure, got %s (%v)", res.Outcome, res.Err)
	}
	e := f.onlyAudit(t)
	if *e.ErrorType != ingestlog.ErrorProcessing || *e.Error != "ingestion timed out" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
}

func TestIngest_OneAuditEntryPerOutcome(t *testing.T) {
	tests := []struct {
		name       string
		sub        *Submission
		wantPassed bool
		wantType   ingestlog.ErrorType
	}{
		{"accepted", submission(1, "cam-1", 0.95, normalReadings()), true, ""},
		{"validation", submission(1, "", 0.95, normalReadings()), false, ingestlog.ErrorValidation},
		{"confidence", submission(1, "cam-1", 0.5, normalReadings()), false, ingestlog.ErrorLowConf},
		{"plausibility", submission(1, "cam-1", 0.95, &Readings{SpO2: fp(40)}), false, ingestlog.ErrorImplausible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(defaultConfig())
			f.svc.Ingest(context.Background(), tt.sub)
			e := f.onlyAudit(t)
			if e.ValidationPassed != tt.wantPassed {
				t.Errorf("validation_passed: expected %v, got %v", tt.wantPassed, e.ValidationPassed)
			}
			if tt.wantType == "" {
				if e.ErrorType != nil {
					t.Errorf("expected no error type, got %s", *e.ErrorType)
				}
				return
			}
			if e.ErrorType == nil || *e.ErrorType != tt.wantType {
				t.Errorf("expected error type %s, got %v", tt.wantType, e.ErrorType)
			}
			if e.RawPayload == nil {
				t.Error("expected raw payload snapshot")
			}
		})
	}
}
