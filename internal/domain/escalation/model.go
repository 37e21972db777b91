package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/nicu/nicu/internal/platform/auth"
)

// Kind is the reason staff are being notified.
type Kind string

const (
	KindManualEntry    Kind = "manual_entry"
	KindClinicalReview Kind = "clinical_review"
	KindAlarm          Kind = "alarm"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Audience reports which roles receive escalations of kind k. Manual entry
// and alarms go to every bedside clinician; clinical review goes only to
// those who may adjudicate a reading.
func (k Kind) Audience() func(auth.ClinicalRole) bool {
	switch k {
	case KindClinicalReview:
		return auth.ClinicalRole.CanReviewClinically
	case KindManualEntry, KindAlarm:
		return auth.ClinicalRole.IsBedside
	}
	return func(auth.ClinicalRole) bool { return false }
}

// StaffUser maps to the staff_users table.
type StaffUser struct {
	ID     uuid.UUID         `db:"id" json:"id"`
	Name   string            `db:"name" json:"name"`
	Role   auth.ClinicalRole `db:"role" json:"role"`
	Active bool              `db:"active" json:"active"`
}

// Notification maps to the notifications table.
type Notification struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	UserID    uuid.UUID              `db:"user_id" json:"user_id"`
	Kind      Kind                   `db:"kind" json:"kind"`
	Title     string                 `db:"title" json:"title"`
	Message   string                 `db:"message" json:"message"`
	Priority  Priority               `db:"priority" json:"priority"`
	PatientID *int64                 `db:"patient_id" json:"patient_id,omitempty"`
	Read      bool                   `db:"read" json:"read"`
	Metadata  map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Escalation is one event to fan out to an audience.
type Escalation struct {
	Kind      Kind
	PatientID int64
	Title     string
	Message   string
	Priority  Priority
	Metadata  map[string]interface{}
}
