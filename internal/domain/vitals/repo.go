package vitals

import (
	"context"
	"time"
)

// RecordRepository is append-only: there is deliberately no Update or Delete.
type RecordRepository interface {
	Create(ctx context.Context, v *VitalRecord) error
	// RecentRaw returns the raw values of the n most recent records for the
	// patient and source device, newest first.
	RecentRaw(ctx context.Context, patientID int64, sourceID string, n int) ([]map[string]float64, error)
	ListByPatient(ctx context.Context, patientID int64, since time.Time, limit, offset int) ([]*VitalRecord, int, error)
}

// PatientRepository answers whether a patient is admitted to the unit.
type PatientRepository interface {
	Exists(ctx context.Context, patientID int64) (bool, error)
}
