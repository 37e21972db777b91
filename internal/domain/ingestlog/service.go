package ingestlog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/platform/metrics"
)

// writeTimeout bounds an audit write once it has been detached from the
// caller's context.
const writeTimeout = 2 * time.Second

type Service struct {
	repo    EntryRepository
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(repo EntryRepository, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "ingestion_log").Logger(), metrics: m}
}

// Record writes one audit entry. It never returns an error: failures are
// logged and counted. The write is detached from ctx cancellation so that a
// timed-out or aborted submission still leaves a row behind.
func (s *Service) Record(ctx context.Context, e *Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.repo.Create(wctx, e); err != nil {
		s.metrics.AuditWriteFailed()
		evt := s.logger.Error().Err(err).Str("source_id", e.SourceID).Bool("validation_passed", e.ValidationPassed)
		if e.PatientID != nil {
			evt = evt.Int64("patient_id", *e.PatientID)
		}
		if e.ErrorType != nil {
			evt = evt.Str("error_type", string(*e.ErrorType))
		}
		evt.Msg("failed to write ingestion log entry")
	}
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Entry, int, error) {
	if f.ErrorType != "" && !f.ErrorType.Valid() {
		return nil, 0, fmt.Errorf("invalid error_type: %s", f.ErrorType)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Stats returns outcome totals for one device (or all devices when sourceID
// is empty) since the given time.
func (s *Service) Stats(ctx context.Context, sourceID string, since time.Time) (*Stats, error) {
	st, err := s.repo.Stats(ctx, sourceID, since)
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		st.Since = &since
	}
	st.computeRate()
	return st, nil
}
