package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryBlockCache is the in-process fallback cache used when redis is
// disabled or down.
type MemoryBlockCache struct {
	flags      sync.Map
	rateLimits sync.Map
}

type blockEntry struct {
	blocked   bool
	expiresAt time.Time
}

func NewMemoryBlockCache() *MemoryBlockCache {
	return &MemoryBlockCache{}
}

func (r *MemoryBlockCache) GetBlocked(ctx context.Context, serviceID int64) (bool, bool, error) {
	val, ok := r.flags.Load(serviceID)
	if !ok {
		return false, false, nil
	}
	entry := val.(*blockEntry)
	if time.Now().After(entry.expiresAt) {
		r.flags.Delete(serviceID)
		return false, false, nil
	}
	return entry.blocked, true, nil
}

func (r *MemoryBlockCache) SetBlocked(ctx context.Context, serviceID int64, blocked bool, ttl time.Duration) error {
	r.flags.Store(serviceID, &blockEntry{blocked: blocked, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (r *MemoryBlockCache) Invalidate(ctx context.Context, serviceID int64) error {
	r.flags.Delete(serviceID)
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryBlockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{expiresAt: now.Add(window)})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if now.After(entry.expiresAt) {
		entry.count = 0
		entry.expiresAt = now.Add(window)
	}
	entry.count++
	return entry.count <= limit, nil
}
