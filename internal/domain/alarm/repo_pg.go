package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nicu/nicu/internal/platform/db"
)

type limitsRepoPG struct{ q db.Querier }

func NewLimitsRepoPG(q db.Querier) LimitsRepository {
	return &limitsRepoPG{q: q}
}

func (r *limitsRepoPG) GetLimits(ctx context.Context, patientID int64) (Limits, error) {
	var limits Limits
	err := r.q.QueryRow(ctx, `SELECT alarm_limits FROM patients WHERE id = $1`, patientID).Scan(&limits)
	if errors.Is(err, pgx.ErrNoRows) {
		return Limits{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load alarm limits: %w", err)
	}
	return limits, nil
}

type alarmRepoPG struct{ q db.Querier }

func NewAlarmRepoPG(q db.Querier) AlarmRepository {
	return &alarmRepoPG{q: q}
}

const alarmCols = `id, patient_id, vital_record_id, type, parameter, value, threshold, message, status, triggered_at`

func scanAlarm(row pgx.Row) (*Alarm, error) {
	var a Alarm
	err := row.Scan(&a.ID, &a.PatientID, &a.VitalRecordID, &a.Type, &a.Parameter,
		&a.Value, &a.Threshold, &a.Message, &a.Status, &a.TriggeredAt)
	return &a, err
}

func (r *alarmRepoPG) Create(ctx context.Context, a *Alarm) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusActive
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO alarms (`+alarmCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.PatientID, a.VitalRecordID, a.Type, a.Parameter,
		a.Value, a.Threshold, a.Message, a.Status, a.TriggeredAt)
	if err != nil {
		return fmt.Errorf("insert alarm: %w", err)
	}
	return nil
}

func (r *alarmRepoPG) ListByPatient(ctx context.Context, patientID int64, status Status, limit, offset int) ([]*Alarm, int, error) {
	where := ` WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM alarms`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alarms: %w", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.q.Query(ctx, `SELECT `+alarmCols+` FROM alarms`+where+
		fmt.Sprintf(` ORDER BY triggered_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var items []*Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
