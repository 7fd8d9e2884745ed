package models

import "time"

// TimeSlot locks a half-open interval [StartAt, EndAt) on a provider's
// calendar for exactly one booking. Slots use half-open semantics: two slots
// overlap iff startA < endB && endA > startB, so back-to-back bookings that
// share a boundary instant do not conflict.
type TimeSlot struct {
	ID         int64     `json:"id"`
	ProviderID int64     `json:"provider_id"`
	BookingID  int64     `json:"booking_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Overlaps reports whether the slot intersects [start, end).
func (s *TimeSlot) Overlaps(start, end time.Time) bool {
	return s.StartAt.Before(end) && s.EndAt.After(start)
}
