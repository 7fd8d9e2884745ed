package worker

import (
	"context"
	"time"

	"slotter/internal/config"
	"slotter/internal/domain"
	"slotter/internal/metrics"
	"slotter/internal/service"

	"github.com/rs/zerolog"
)

// UnblockSweeper lifts service blocks whose suspension period has elapsed.
type UnblockSweeper struct {
	repo   domain.Repository
	blocks *service.BlockLedger
	cfg    config.EscalationConfig
	logger *zerolog.Logger
}

func NewUnblockSweeper(repo domain.Repository, blocks *service.BlockLedger, cfg config.EscalationConfig, logger *zerolog.Logger) *UnblockSweeper {
	return &UnblockSweeper{
		repo:   repo,
		blocks: blocks,
		cfg:    cfg,
		logger: logger,
	}
}

// Run loops until the context is cancelled.
func (w *UnblockSweeper) Run(ctx context.Context) {
	interval := w.cfg.UnblockInterval()
	w.logger.Info().Dur("interval", interval).Msg("unblock sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("unblock sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce deactivates every expired active block, each independently.
func (w *UnblockSweeper) RunOnce(ctx context.Context) {
	metrics.IncSweep("unblock")

	expired, err := w.repo.GetExpiredActiveBlocks(ctx, time.Now().UTC())
	if err != nil {
		w.logger.Error().Err(err).Msg("unblock sweep query failed")
		return
	}

	for _, block := range expired {
		if err := w.blocks.Deactivate(ctx, block); err != nil {
			w.logger.Error().Err(err).Int64("block_id", block.ID).Msg("failed to lift expired block")
			continue
		}
		w.logger.Info().Int64("block_id", block.ID).Int64("service_id", block.ServiceID).
			Msg("service block lifted")
	}
}
