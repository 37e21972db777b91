package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/platform/metrics"
)

// EventType is the stream event type for newly created alarms.
const EventType = "alarm.created"

// Publisher fans alarms out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) (string, error)
}

type Service struct {
	limits    LimitsRepository
	alarms    AlarmRepository
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(limits LimitsRepository, alarms AlarmRepository, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		limits:  limits,
		alarms:  alarms,
		logger:  logger.With().Str("component", "alarm_evaluator").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher enables best-effort fan-out of created alarms.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// Evaluate loads the patient's limits, creates one active alarm per breach
// of the smoothed vitals and returns them. If storing an alarm fails it
// stops and returns the alarms already stored together with the error.
// Publishing failures are only logged.
func (s *Service) Evaluate(ctx context.Context, patientID int64, recordID uuid.UUID, vitals map[string]float64) ([]*Alarm, error) {
	limits, err := s.limits.GetLimits(ctx, patientID)
	if err != nil {
		return nil, err
	}

	breaches := Check(patientID, vitals, limits, s.now())
	created := make([]*Alarm, 0, len(breaches))
	for _, a := range breaches {
		if recordID != uuid.Nil {
			rid := recordID
			a.VitalRecordID = &rid
		}
		if err := s.alarms.Create(ctx, a); err != nil {
			return created, fmt.Errorf("create %s alarm for %s: %w", a.Type, a.Parameter, err)
		}
		created = append(created, a)
		s.metrics.AlarmRaised(string(a.Type), a.Parameter)
		s.logger.Warn().
			Str("alarm_id", a.ID.String()).
			Int64("patient_id", patientID).
			Str("type", string(a.Type)).
			Str("parameter", a.Parameter).
			Float64("value", a.Value).
			Float64("threshold", a.Threshold).
			Msg(a.Message)

		if s.publisher != nil {
			if _, err := s.publisher.Publish(ctx, EventType, a); err != nil {
				s.logger.Error().Err(err).Str("alarm_id", a.ID.String()).Msg("failed to publish alarm event")
			}
		}
	}
	return created, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64, status Status, limit, offset int) ([]*Alarm, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.alarms.ListByPatient(ctx, patientID, status, limit, offset)
}
