package models

import "time"

// ServiceBlock is a temporary suspension of a service listing, created when
// a service accumulates too many auto-cancelled bookings inside the strike
// window. A service counts as blocked iff an active block exists whose
// UnblockAt lies in the future; expired blocks are deactivated lazily by the
// unblock sweeper.
type ServiceBlock struct {
	ID        int64     `json:"id"`
	ServiceID int64     `json:"service_id"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	UnblockAt time.Time `json:"unblock_at"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the block's suspension period has elapsed.
func (b *ServiceBlock) Expired(now time.Time) bool {
	return !b.UnblockAt.After(now)
}
