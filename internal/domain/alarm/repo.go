package alarm

import (
	"context"
)

// LimitsRepository reads per-patient alarm limits. Limits are owned by the
// patient record and are never written from here.
type LimitsRepository interface {
	GetLimits(ctx context.Context, patientID int64) (Limits, error)
}

// AlarmRepository has no update path: acknowledge, silence and resolve are
// handled elsewhere.
type AlarmRepository interface {
	Create(ctx context.Context, a *Alarm) error
	ListByPatient(ctx context.Context, patientID int64, status Status, limit, offset int) ([]*Alarm, int, error)
}
