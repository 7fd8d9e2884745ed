package repository

import (
	"context"
	"sync/atomic"
	"time"

	"slotter/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverBlockCache routes to the primary cache and falls back to the
// in-memory one after a failure, re-probing the primary once a minute.
type FailoverBlockCache struct {
	primary   domain.BlockCache
	fallback  domain.BlockCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverBlockCache(primary, fallback domain.BlockCache, logger *zerolog.Logger) *FailoverBlockCache {
	return &FailoverBlockCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverBlockCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary block cache failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverBlockCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Probe the primary again after a minute.
	if time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		r.lastCheck.Store(time.Now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverBlockCache) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary block cache recovered")
	}
}

func (r *FailoverBlockCache) GetBlocked(ctx context.Context, serviceID int64) (bool, bool, error) {
	if r.usePrimary() {
		blocked, found, err := r.primary.GetBlocked(ctx, serviceID)
		if err == nil {
			r.recovered()
			return blocked, found, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetBlocked(ctx, serviceID)
}

func (r *FailoverBlockCache) SetBlocked(ctx context.Context, serviceID int64, blocked bool, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetBlocked(ctx, serviceID, blocked, ttl)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetBlocked(ctx, serviceID, blocked, ttl)
}

func (r *FailoverBlockCache) Invalidate(ctx context.Context, serviceID int64) error {
	if r.usePrimary() {
		err := r.primary.Invalidate(ctx, serviceID)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Invalidate(ctx, serviceID)
}

func (r *FailoverBlockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
