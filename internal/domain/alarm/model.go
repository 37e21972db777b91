package alarm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeCritical Type = "critical"
	TypeWarning  Type = "warning"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusSilenced     Status = "silenced"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusSilenced, StatusResolved:
		return true
	}
	return false
}

// Alarm maps to the alarms table.
type Alarm struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     int64      `db:"patient_id" json:"patient_id"`
	VitalRecordID *uuid.UUID `db:"vital_record_id" json:"vital_record_id,omitempty"`
	Type          Type       `db:"type" json:"type"`
	Parameter     string     `db:"parameter" json:"parameter"`
	Value         float64    `db:"value" json:"value"`
	Threshold     float64    `db:"threshold" json:"threshold"`
	Message       string     `db:"message" json:"message"`
	Status        Status     `db:"status" json:"status"`
	TriggeredAt   time.Time  `db:"triggered_at" json:"triggered_at"`
}

// Limits maps a parameter key to its [low, high] alarm bounds, as stored in
// patients.alarm_limits.
type Limits map[string][2]float64

// Parameters evaluated, in order. Keys match the smoothed vitals map.
var Parameters = []string{"hr", "spo2", "rr", "temp", "systolic", "diastolic", "map"}

// fallbackKeys lists alternative limit keys per parameter. Monitors label
// heart rate from the pleth as pulse rate.
var fallbackKeys = map[string][]string{
	"hr": {"pr"},
}

// Lookup returns the bounds configured for param and the key they were
// found under.
func (l Limits) Lookup(param string) ([2]float64, string, bool) {
	if b, ok := l[param]; ok {
		return b, param, true
	}
	for _, alt := range fallbackKeys[param] {
		if b, ok := l[alt]; ok {
			return b, alt, true
		}
	}
	return [2]float64{}, "", false
}

var labels = map[string]string{
	"hr": "Heart rate", "pr": "Pulse rate", "spo2": "SpO2", "rr": "Respiratory rate",
	"temp": "Temperature", "systolic": "Systolic BP", "diastolic": "Diastolic BP", "map": "MAP",
}

func label(key string) string {
	if l, ok := labels[key]; ok {
		return l
	}
	return key
}

// Check compares smoothed values against limits. A value below low raises a
// critical alarm, above high a warning; the threshold is the breached bound.
// It performs no deduplication against alarms already active.
func Check(patientID int64, vitals map[string]float64, limits Limits, now time.Time) []*Alarm {
	var out []*Alarm
	for _, param := range Parameters {
		v, ok := vitals[param]
		if !ok {
			continue
		}
		bounds, key, ok := limits.Lookup(param)
		if !ok {
			continue
		}
		low, high := bounds[0], bounds[1]

		var a *Alarm
		switch {
		case v < low:
			a = &Alarm{Type: TypeCritical, Threshold: low,
				Message: fmt.Sprintf("%s %g below low limit %g", label(key), v, low)}
		case v > high:
			a = &Alarm{Type: TypeWarning, Threshold: high,
				Message: fmt.Sprintf("%s %g above high limit %g", label(key), v, high)}
		default:
			continue
		}
		a.PatientID = patientID
		a.Parameter = key
		a.Value = v
		a.Status = StatusActive
		a.TriggeredAt = now
		out = append(out, a)
	}
	return out
}
