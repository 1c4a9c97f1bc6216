package licensing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/metrics"
	"github.com/sarvex/infisical/internal/models"
)

// SeatStore provides the queries seat synchronization needs.
type SeatStore interface {
	GetOrgLicense(ctx context.Context, orgID uuid.UUID) (*models.License, error)
	CountAcceptedMemberships(ctx context.Context, orgID uuid.UUID) (int, error)
	GetLicensedOrgIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SeatReporter is the subset of the Gateway used for seat updates.
type SeatReporter interface {
	UpdateSeatCount(ctx context.Context, licenseKey string, seats int) error
}

// SeatSyncer pushes an organization's accepted membership count to the
// license server whenever membership changes.
type SeatSyncer struct {
	store   SeatStore
	keys    *crypto.KeyManager
	gateway SeatReporter
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSeatSyncer creates a SeatSyncer.
func NewSeatSyncer(store SeatStore, keys *crypto.KeyManager, gateway SeatReporter, logger zerolog.Logger, m *metrics.Metrics) *SeatSyncer {
	return &SeatSyncer{
		store:   store,
		keys:    keys,
		gateway: gateway,
		logger:  logger.With().Str("component", "seat_sync").Logger(),
		metrics: m,
	}
}

// Sync recomputes the organization's seat count and reports it to the
// license server. Organizations without an organization-type license
// are skipped. Failures are logged, never returned: membership
// operations must not be blocked by license server availability.
func (s *SeatSyncer) Sync(ctx context.Context, orgID uuid.UUID) {
	lic, err := s.store.GetOrgLicense(ctx, orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.observe("skipped")
			return
		}
		s.logger.Error().Err(err).Str("org_id", orgID.String()).Msg("load organization license")
		s.observe("error")
		return
	}

	seats, err := s.store.CountAcceptedMemberships(ctx, orgID)
	if err != nil {
		s.logger.Error().Err(err).Str("org_id", orgID.String()).Msg("count accepted memberships")
		s.observe("error")
		return
	}

	key, err := s.keys.DecryptString(lic.KeyCiphertext, lic.KeyIV, lic.KeyAuthTag)
	if err != nil {
		s.logger.Error().Err(err).Str("org_id", orgID.String()).Msg("decrypt license key")
		s.observe("error")
		return
	}

	if err := s.gateway.UpdateSeatCount(ctx, key, seats); err != nil {
		s.logger.Error().Err(err).Str("org_id", orgID.String()).Int("seats", seats).Msg("report seat count")
		s.observe("error")
		return
	}

	s.logger.Debug().Str("org_id", orgID.String()).Int("seats", seats).Msg("seat count reported")
	s.observe("success")
}

func (s *SeatSyncer) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.SeatSync.WithLabelValues(outcome).Inc()
	}
}
