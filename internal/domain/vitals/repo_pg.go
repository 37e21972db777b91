package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nicu/nicu/internal/platform/db"
)

type recordRepoPG struct{ q db.Querier }

func NewRecordRepoPG(q db.Querier) RecordRepository {
	return &recordRepoPG{q: q}
}

const recordCols = `id, patient_id, heart_rate, spo2, resp_rate, temperature,
	bp_systolic, bp_diastolic, bp_map, source, source_id, source_metadata,
	confidence, recorded_at, created_at`

func scanRecord(row pgx.Row) (*VitalRecord, error) {
	var v VitalRecord
	err := row.Scan(&v.ID, &v.PatientID, &v.HeartRate, &v.SpO2, &v.RespRate, &v.Temperature,
		&v.BPSystolic, &v.BPDiastolic, &v.BPMap, &v.Source, &v.SourceID, &v.SourceMetadata,
		&v.Confidence, &v.RecordedAt, &v.CreatedAt)
	return &v, err
}

func (r *recordRepoPG) Create(ctx context.Context, v *VitalRecord) error {
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	_, err := r.q.Exec(ctx, `
		INSERT INTO vital_records (`+recordCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		v.ID, v.PatientID, v.HeartRate, v.SpO2, v.RespRate, v.Temperature,
		v.BPSystolic, v.BPDiastolic, v.BPMap, v.Source, v.SourceID, v.SourceMetadata,
		v.Confidence, v.RecordedAt, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vital record: %w", err)
	}
	return nil
}

// RecentRaw prefers the raw values kept in provenance and falls back to the
// stored columns for records written without one (manual entry).
func (r *recordRepoPG) RecentRaw(ctx context.Context, patientID int64, sourceID string, n int) ([]map[string]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT COALESCE(source_metadata->'raw', jsonb_strip_nulls(jsonb_build_object(
			'hr', heart_rate, 'spo2', spo2, 'rr', resp_rate, 'temp', temperature)))
		FROM vital_records
		WHERE patient_id = $1 AND source_id = $2
		ORDER BY recorded_at DESC, created_at DESC
		LIMIT $3`, patientID, sourceID, n)
	if err != nil {
		return nil, fmt.Errorf("query smoothing window: %w", err)
	}
	defer rows.Close()

	var out []map[string]float64
	for rows.Next() {
		var raw map[string]float64
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan smoothing window: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID int64, since time.Time, limit, offset int) ([]*VitalRecord, int, error) {
	var total int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM vital_records WHERE patient_id = $1 AND recorded_at >= $2`,
		patientID, since).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vital records: %w", err)
	}

	rows, err := r.q.Query(ctx, `SELECT `+recordCols+` FROM vital_records
		WHERE patient_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC, created_at DESC LIMIT $3 OFFSET $4`,
		patientID, since, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list vital records: %w", err)
	}
	defer rows.Close()

	var items []*VitalRecord
	for rows.Next() {
		v, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

type patientRepoPG struct{ q db.Querier }

func NewPatientRepoPG(q db.Querier) PatientRepository {
	return &patientRepoPG{q: q}
}

func (r *patientRepoPG) Exists(ctx context.Context, patientID int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1 AND active)`, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("lookup patient: %w", err)
	}
	return ok, nil
}
