package licensing

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Reconciler periodically re-reports seat counts for every licensed
// organization. It catches drift from missed membership events and
// license server outages.
type Reconciler struct {
	syncer   *SeatSyncer
	store    SeatStore
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewReconciler creates a seat reconciliation scheduler. The schedule
// is a standard cron expression.
func NewReconciler(syncer *SeatSyncer, store SeatStore, schedule string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		syncer:   syncer,
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "seat_reconciler").Logger(),
	}
}

// Start begins the periodic reconciliation sweep.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("seat reconciler already running")
	}

	_, err := r.cron.AddFunc(r.schedule, r.runSweep)
	if err != nil {
		return err
	}

	r.cron.Start()
	r.running = true

	r.logger.Info().Str("schedule", r.schedule).Msg("seat reconciler started")
	return nil
}

// Stop stops the reconciler gracefully.
func (r *Reconciler) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	r.running = false
	r.logger.Info().Msg("stopping seat reconciler")
	return r.cron.Stop()
}

// runSweep reports seat counts for every organization that holds an
// organization-type license.
func (r *Reconciler) runSweep() {
	ctx := context.Background()

	orgIDs, err := r.store.GetLicensedOrgIDs(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("list licensed organizations")
		return
	}

	for _, orgID := range orgIDs {
		r.syncer.Sync(ctx, orgID)
	}

	r.logger.Debug().Int("organizations", len(orgIDs)).Msg("seat reconciliation sweep completed")
}
