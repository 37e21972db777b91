package vitals

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Parameter keys shared by the smoother, plausibility checker and alarm
// evaluator.
const (
	ParamHR        = "hr"
	ParamSpO2      = "spo2"
	ParamRR        = "rr"
	ParamTemp      = "temp"
	ParamSystolic  = "systolic"
	ParamDiastolic = "diastolic"
	ParamMAP       = "map"
)

// PrimaryParams are the scalar vitals; at least one must be present, and
// only these are smoothed.
var PrimaryParams = []string{ParamHR, ParamSpO2, ParamRR, ParamTemp}

// Source is where a vital record came from.
type Source string

const (
	SourceCamera    Source = "camera"
	SourceMonitor   Source = "monitor"
	SourceManual    Source = "manual"
	SourceDevice    Source = "device"
	SourceSimulator Source = "simulator"
)

func (s Source) Valid() bool {
	switch s {
	case SourceCamera, SourceMonitor, SourceManual, SourceDevice, SourceSimulator:
		return true
	}
	return false
}

type BloodPressure struct {
	Systolic  *float64 `json:"systolic,omitempty"`
	Diastolic *float64 `json:"diastolic,omitempty"`
	MAP       *float64 `json:"map,omitempty"`
}

// Readings is the optional-per-field vitals object of a submission.
type Readings struct {
	HR   *float64       `json:"hr,omitempty"`
	SpO2 *float64       `json:"spo2,omitempty"`
	RR   *float64       `json:"rr,omitempty"`
	Temp *float64       `json:"temp,omitempty"`
	BP   *BloodPressure `json:"bp,omitempty"`
}

// Map flattens the present readings into parameter key -> value.
func (r *Readings) Map() map[string]float64 {
	out := make(map[string]float64)
	if r == nil {
		return out
	}
	put := func(k string, v *float64) {
		if v != nil {
			out[k] = *v
		}
	}
	put(ParamHR, r.HR)
	put(ParamSpO2, r.SpO2)
	put(ParamRR, r.RR)
	put(ParamTemp, r.Temp)
	if r.BP != nil {
		put(ParamSystolic, r.BP.Systolic)
		put(ParamDiastolic, r.BP.Diastolic)
		put(ParamMAP, r.BP.MAP)
	}
	return out
}

// ReadingsFromMap is the inverse of Map.
func ReadingsFromMap(m map[string]float64) *Readings {
	get := func(k string) *float64 {
		if v, ok := m[k]; ok {
			return &v
		}
		return nil
	}
	r := &Readings{HR: get(ParamHR), SpO2: get(ParamSpO2), RR: get(ParamRR), Temp: get(ParamTemp)}
	bp := &BloodPressure{Systolic: get(ParamSystolic), Diastolic: get(ParamDiastolic), MAP: get(ParamMAP)}
	if bp.Systolic != nil || bp.Diastolic != nil || bp.MAP != nil {
		r.BP = bp
	}
	return r
}

func (r *Readings) hasPrimary() bool {
	return r != nil && (r.HR != nil || r.SpO2 != nil || r.RR != nil || r.Temp != nil)
}

// Submission is one reading pushed by an edge device, as received on the
// wire. Optional fields are pointers so that absence is distinguishable
// from zero.
type Submission struct {
	PatientID       *int64                 `json:"patientId"`
	CameraID        string                 `json:"cameraId"`
	Source          Source                 `json:"source,omitempty"`
	Vitals          *Readings              `json:"vitals"`
	Confidence      *float64               `json:"confidence"`
	InferenceTimeMs *int                   `json:"inferenceTimeMs,omitempty"`
	Timestamp       *string                `json:"timestamp,omitempty"`
	MonitorType     *string                `json:"monitorType,omitempty"`
	RawImagePath    *string                `json:"rawImagePath,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`

	// Transport names the ingress ("http", "mqtt") for metrics and logs.
	Transport string `json:"-"`

	decodeErrors []FieldError
	malformed    bool
	rawBody      string
}

// WindowStats describes the smoothing inputs for one parameter.
type WindowStats struct {
	Inputs []float64 `json:"inputs"`
	Count  int       `json:"count"`
	Median float64   `json:"median"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"stddev"`
}

// Provenance is stored in vital_records.source_metadata and is never
// modified after insert.
type Provenance struct {
	DeviceID         string                 `json:"device_id"`
	MonitorType      string                 `json:"monitor_type,omitempty"`
	RawImageRef      string                 `json:"raw_image_ref,omitempty"`
	Raw              map[string]float64     `json:"raw"`
	Smoothed         map[string]float64     `json:"smoothed"`
	Window           map[string]WindowStats `json:"window,omitempty"`
	SmoothingEnabled bool                   `json:"smoothing_enabled"`
	WindowSize       int                    `json:"window_size"`
	Confidence       float64                `json:"confidence"`
	InferenceTimeMs  *int                   `json:"inference_time_ms,omitempty"`
	CapturedAt       time.Time              `json:"captured_at"`
	ReceivedAt       time.Time              `json:"received_at"`
	ProcessingMs     float64                `json:"processing_ms"`
	Transport        string                 `json:"transport,omitempty"`
	DeviceMetadata   map[string]interface{} `json:"device_metadata,omitempty"`
}

// VitalRecord maps to the vital_records table. Columns hold smoothed values.
type VitalRecord struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      int64      `db:"patient_id" json:"patient_id"`
	HeartRate      *float64   `db:"heart_rate" json:"heart_rate,omitempty"`
	SpO2           *float64   `db:"spo2" json:"spo2,omitempty"`
	RespRate       *float64   `db:"resp_rate" json:"resp_rate,omitempty"`
	Temperature    *float64   `db:"temperature" json:"temperature,omitempty"`
	BPSystolic     *float64   `db:"bp_systolic" json:"bp_systolic,omitempty"`
	BPDiastolic    *float64   `db:"bp_diastolic" json:"bp_diastolic,omitempty"`
	BPMap          *float64   `db:"bp_map" json:"bp_map,omitempty"`
	Source         Source     `db:"source" json:"source"`
	SourceID       string     `db:"source_id" json:"source_id"`
	SourceMetadata Provenance `db:"source_metadata" json:"source_metadata"`
	Confidence     *float64   `db:"confidence" json:"confidence,omitempty"`
	RecordedAt     time.Time  `db:"recorded_at" json:"recorded_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

func (v *VitalRecord) setValues(m map[string]float64) {
	r := ReadingsFromMap(m)
	v.HeartRate, v.SpO2, v.RespRate, v.Temperature = r.HR, r.SpO2, r.RR, r.Temp
	if r.BP != nil {
		v.BPSystolic, v.BPDiastolic, v.BPMap = r.BP.Systolic, r.BP.Diastolic, r.BP.MAP
	}
}

// snapshot is the submission as received, for the ingestion log.
func (s *Submission) snapshot() map[string]interface{} {
	if s.malformed {
		return map[string]interface{}{"raw_body": s.rawBody}
	}
	out := map[string]interface{}{}
	b, err := json.Marshal(s)
	if err == nil {
		_ = json.Unmarshal(b, &out)
	}
	if s.Transport != "" {
		out["transport"] = s.Transport
	}
	return out
}
