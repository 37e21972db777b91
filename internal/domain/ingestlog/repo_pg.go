package ingestlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nicu/nicu/internal/platform/db"
)

type entryRepoPG struct{ q db.Querier }

func NewEntryRepoPG(q db.Querier) EntryRepository {
	return &entryRepoPG{q: q}
}

const entryCols = `id, patient_id, source_id, confidence, inference_time_ms,
	validation_passed, error_type, error, raw_payload, vital_record_id,
	duration_ms, processed_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.SourceID, &e.Confidence, &e.InferenceTimeMs,
		&e.ValidationPassed, &e.ErrorType, &e.Error, &e.RawPayload, &e.VitalRecordID,
		&e.DurationMs, &e.ProcessedAt)
	return &e, err
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	if e.RawPayload == nil {
		e.RawPayload = map[string]interface{}{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO ingestion_log (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.PatientID, e.SourceID, e.Confidence, e.InferenceTimeMs,
		e.ValidationPassed, e.ErrorType, e.Error, e.RawPayload, e.VitalRecordID,
		e.DurationMs, e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert ingestion log: %w", err)
	}
	return nil
}

func whereClause(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SourceID != "" {
		add("source_id = $%d", f.SourceID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.ErrorType != "" {
		add("error_type = $%d", string(f.ErrorType))
	}
	if !f.Since.IsZero() {
		add("processed_at >= $%d", f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *entryRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Entry, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM ingestion_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ingestion log: %w", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.q.Query(ctx, `SELECT `+entryCols+` FROM ingestion_log`+where+
		fmt.Sprintf(` ORDER BY processed_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ingestion log: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *entryRepoPG) Stats(ctx context.Context, sourceID string, since time.Time) (*Stats, error) {
	where, args := whereClause(ListFilter{SourceID: sourceID, Since: since})
	s := &Stats{SourceID: sourceID}
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE validation_passed),
			COUNT(*) FILTER (WHERE error_type = 'validation_error'),
			COUNT(*) FILTER (WHERE error_type = 'low_confidence'),
			COUNT(*) FILTER (WHERE error_type = 'implausible_reading'),
			COUNT(*) FILTER (WHERE error_type = 'processing_error'),
			AVG(confidence)::float8,
			AVG(inference_time_ms)::float8,
			MAX(processed_at)
		FROM ingestion_log`+where, args...).Scan(
		&s.Total, &s.Accepted, &s.ValidationErrors, &s.LowConfidence,
		&s.Implausible, &s.ProcessingErrors, &s.AvgConfidence,
		&s.AvgInferenceTimeMs, &s.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("ingestion stats: %w", err)
	}
	return s, nil
}
