package worker

import (
	"context"
	"fmt"
	"time"

	"slotter/internal/config"
	"slotter/internal/domain"
	"slotter/internal/metrics"
	"slotter/internal/models"
	"slotter/internal/service"

	"github.com/rs/zerolog"
)

// AutoCancelSweeper expires bookings the provider never answered and
// escalates repeat offenders into service blocks. It runs on a fixed
// cadence and treats every booking independently: one failure is logged and
// the rest of the batch proceeds.
type AutoCancelSweeper struct {
	repo   domain.Repository
	sm     *service.StateMachine
	blocks *service.BlockLedger
	cfg    config.EscalationConfig
	logger *zerolog.Logger
}

func NewAutoCancelSweeper(repo domain.Repository, sm *service.StateMachine, blocks *service.BlockLedger, cfg config.EscalationConfig, logger *zerolog.Logger) *AutoCancelSweeper {
	return &AutoCancelSweeper{
		repo:   repo,
		sm:     sm,
		blocks: blocks,
		cfg:    cfg,
		logger: logger,
	}
}

// Run loops until the context is cancelled. One pass runs immediately so a
// restart does not wait a full interval to catch up.
func (w *AutoCancelSweeper) Run(ctx context.Context) {
	interval := w.cfg.SweepInterval()
	w.logger.Info().Dur("interval", interval).Msg("auto-cancel sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("auto-cancel sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass.
func (w *AutoCancelSweeper) RunOnce(ctx context.Context) {
	metrics.IncSweep("auto_cancel")

	now := time.Now().UTC()
	stale, err := w.repo.GetStalePendingBookings(ctx, now.Add(-w.cfg.PendingTimeout()))
	if err != nil {
		w.logger.Error().Err(err).Msg("auto-cancel sweep query failed")
		return
	}

	for _, booking := range stale {
		if err := w.cancelAndEscalate(ctx, booking, now); err != nil {
			w.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("auto-cancel failed for booking")
		}
	}
}

func (w *AutoCancelSweeper) cancelAndEscalate(ctx context.Context, booking *models.Booking, now time.Time) error {
	if err := w.sm.ForceStatus(ctx, booking.ID, models.StatusAutoCancelled); err != nil {
		return err
	}
	metrics.IncAutoCancelled()
	w.logger.Info().Int64("booking_id", booking.ID).Int64("service_id", booking.ServiceID).
		Msg("booking auto-cancelled, provider never responded")

	// Strike count is a read-time aggregate over the trailing window,
	// including the cancellation just recorded.
	strikes, err := w.repo.CountAutoCancelledForService(ctx, booking.ServiceID, now.Add(-w.cfg.StrikeWindow()))
	if err != nil {
		return err
	}
	if strikes < w.cfg.StrikeThreshold {
		return nil
	}

	blocked, err := w.blocks.IsBlocked(ctx, booking.ServiceID)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}

	reason := fmt.Sprintf("%d auto-cancellations within %s", strikes, w.cfg.StrikeWindow())
	_, err = w.blocks.Block(ctx, booking.ServiceID, reason, w.cfg.BlockDuration())
	return err
}
