package escalation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/platform/metrics"
)

// Service creates role-targeted notifications. Escalation is best-effort:
// Escalate never returns an error to the ingestion pipeline.
type Service struct {
	dir     StaffDirectory
	repo    NotificationRepository
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(dir StaffDirectory, repo NotificationRepository, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		dir:     dir,
		repo:    repo,
		logger:  logger.With().Str("component", "escalation").Logger(),
		metrics: m,
	}
}

// Escalate creates one notification per active user whose role is in the
// audience for esc.Kind and returns how many were created.
func (s *Service) Escalate(ctx context.Context, esc Escalation) int {
	users, err := s.dir.ListActive(ctx)
	if err != nil {
		s.metrics.NotificationSent(string(esc.Kind), false)
		s.logger.Error().Err(err).
			Str("kind", string(esc.Kind)).
			Int64("patient_id", esc.PatientID).
			Msg("failed to resolve escalation audience")
		return 0
	}

	inAudience := esc.Kind.Audience()
	patientID := esc.PatientID
	sent := 0
	for _, u := range users {
		if !u.Active || !inAudience(u.Role) {
			continue
		}
		n := &Notification{
			UserID:    u.ID,
			Kind:      esc.Kind,
			Title:     esc.Title,
			Message:   esc.Message,
			Priority:  esc.Priority,
			PatientID: &patientID,
			Metadata:  esc.Metadata,
		}
		if err := s.repo.Create(ctx, n); err != nil {
			s.metrics.NotificationSent(string(esc.Kind), false)
			s.logger.Error().Err(err).
				Str("kind", string(esc.Kind)).
				Str("user_id", u.ID.String()).
				Int64("patient_id", esc.PatientID).
				Msg("failed to create notification")
			continue
		}
		s.metrics.NotificationSent(string(esc.Kind), true)
		sent++
	}

	s.logger.Info().
		Str("kind", string(esc.Kind)).
		Str("priority", string(esc.Priority)).
		Int64("patient_id", esc.PatientID).
		Int("recipients", sent).
		Msg("escalation sent")
	return sent
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("notification id is required")
	}
	return s.repo.MarkRead(ctx, id, userID)
}
