package service

import (
	"context"
	"time"

	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/metrics"
	"slotter/internal/models"

	"github.com/rs/zerolog"
)

// BlockLedger owns service blocks. Reads go through the cache when one is
// wired; the cache fails open to the repository, so a dead redis never
// blocks intake.
type BlockLedger struct {
	repo     domain.Repository
	cache    domain.BlockCache
	eventBus domain.EventPublisher
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewBlockLedger(repo domain.Repository, cache domain.BlockCache, eventBus domain.EventPublisher, logger *zerolog.Logger) *BlockLedger {
	return &BlockLedger{
		repo:     repo,
		cache:    cache,
		eventBus: eventBus,
		cacheTTL: models.BlockCacheTTL,
		logger:   logger,
	}
}

// IsBlocked reports whether an active block with a future unblock time
// exists for the service.
func (l *BlockLedger) IsBlocked(ctx context.Context, serviceID int64) (bool, error) {
	if l.cache != nil {
		blocked, found, err := l.cache.GetBlocked(ctx, serviceID)
		if err != nil {
			l.logger.Warn().Err(err).Int64("service_id", serviceID).Msg("block cache read failed")
		} else if found {
			return blocked, nil
		}
	}

	blocked, err := l.repo.IsServiceBlocked(ctx, serviceID)
	if err != nil {
		return false, err
	}

	if l.cache != nil {
		if err := l.cache.SetBlocked(ctx, serviceID, blocked, l.cacheTTL); err != nil {
			l.logger.Warn().Err(err).Int64("service_id", serviceID).Msg("block cache write failed")
		}
	}
	return blocked, nil
}

// Block suspends the service for the given duration. Returns the existing
// block unchanged if the service is already blocked.
func (l *BlockLedger) Block(ctx context.Context, serviceID int64, reason string, duration time.Duration) (*models.ServiceBlock, error) {
	if existing, err := l.repo.GetActiveBlock(ctx, serviceID); err == nil && !existing.Expired(time.Now().UTC()) {
		return existing, nil
	}

	now := time.Now().UTC()
	block := &models.ServiceBlock{
		ServiceID: serviceID,
		Reason:    reason,
		BlockedAt: now,
		UnblockAt: now.Add(duration),
	}
	if err := l.repo.CreateServiceBlock(ctx, block); err != nil {
		return nil, err
	}
	metrics.IncBlock("created")
	l.invalidate(ctx, serviceID)

	if l.eventBus != nil {
		_ = l.eventBus.PublishJSON(events.EventServiceBlocked, events.BlockEventPayload{
			BlockID:   block.ID,
			ServiceID: serviceID,
			Reason:    reason,
			UnblockAt: block.UnblockAt,
		})
	}

	l.logger.Warn().Int64("service_id", serviceID).Time("unblock_at", block.UnblockAt).Str("reason", reason).
		Msg("service blocked")
	return block, nil
}

// Unblock lifts every active block on the service.
func (l *BlockLedger) Unblock(ctx context.Context, serviceID int64) error {
	if err := l.repo.DeactivateBlocksForService(ctx, serviceID); err != nil {
		return err
	}
	metrics.IncBlock("lifted")
	l.invalidate(ctx, serviceID)

	if l.eventBus != nil {
		_ = l.eventBus.PublishJSON(events.EventServiceUnblocked, events.BlockEventPayload{ServiceID: serviceID})
	}
	return nil
}

// Deactivate lifts a single block by id.
func (l *BlockLedger) Deactivate(ctx context.Context, block *models.ServiceBlock) error {
	if err := l.repo.DeactivateBlock(ctx, block.ID); err != nil {
		return err
	}
	metrics.IncBlock("lifted")
	l.invalidate(ctx, block.ServiceID)

	if l.eventBus != nil {
		_ = l.eventBus.PublishJSON(events.EventServiceUnblocked, events.BlockEventPayload{
			BlockID:   block.ID,
			ServiceID: block.ServiceID,
		})
	}
	return nil
}

func (l *BlockLedger) invalidate(ctx context.Context, serviceID int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, serviceID); err != nil {
		l.logger.Warn().Err(err).Int64("service_id", serviceID).Msg("block cache invalidate failed")
	}
}
