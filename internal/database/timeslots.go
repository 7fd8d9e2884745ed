package database

import (
	"context"
	"fmt"
	"time"

	"slotter/internal/models"
)

const slotColumns = `id, provider_id, booking_id, start_at, end_at, is_active, created_at`

// Active slots are filtered through the owning booking's status, not only
// is_active: a slot whose booking reached a terminal state without an
// explicit release must never block the calendar.
const activeSlotFilter = `s.is_active = 1
                AND b.status NOT IN ('completed', 'cancelled', 'auto_cancelled')`

func scanSlot(row rowScanner) (*models.TimeSlot, error) {
	var s models.TimeSlot
	if err := row.Scan(&s.ID, &s.ProviderID, &s.BookingID, &s.StartAt, &s.EndAt, &s.IsActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartAt = s.StartAt.UTC()
	s.EndAt = s.EndAt.UTC()
	return &s, nil
}

// HasOverlap reports whether [start, end) intersects an active slot of the
// provider owned by a non-terminal booking. excludeBookingID (0 = none)
// ignores the caller's own booking.
func (db *DB) HasOverlap(ctx context.Context, providerID int64, start, end time.Time, excludeBookingID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM time_slots s
              JOIN bookings b ON b.id = s.booking_id
              WHERE s.provider_id = ? AND ` + activeSlotFilter + `
                AND s.booking_id != ?
                AND s.start_at < ? AND s.end_at > ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, providerID, excludeBookingID, end.UTC(), start.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slot overlap: %w", err)
	}
	return count > 0, nil
}

// Overlapping returns the provider's active, non-terminal-owned slots that
// intersect [start, end), ordered by start.
func (db *DB) Overlapping(ctx context.Context, providerID int64, start, end time.Time) ([]*models.TimeSlot, error) {
	query := `SELECT s.` + slotColumnsPrefixed() + ` FROM time_slots s
              JOIN bookings b ON b.id = s.booking_id
              WHERE s.provider_id = ? AND ` + activeSlotFilter + `
                AND s.start_at < ? AND s.end_at > ?
              ORDER BY s.start_at ASC`
	rows, err := db.db.QueryContext(ctx, query, providerID, end.UTC(), start.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// CoversInstant reports whether the instant falls strictly inside an active
// slot (slot.start <= at < slot.end). Used when a request has no end time.
func (db *DB) CoversInstant(ctx context.Context, providerID int64, at time.Time) (bool, error) {
	query := `SELECT COUNT(*) FROM time_slots s
              JOIN bookings b ON b.id = s.booking_id
              WHERE s.provider_id = ? AND ` + activeSlotFilter + `
                AND s.start_at <= ? AND s.end_at > ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, providerID, at.UTC(), at.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slot coverage: %w", err)
	}
	return count > 0, nil
}

// CreateTimeSlot inserts a slot unconditionally. Production acceptance goes
// through AcceptBookingWithSlot, which re-checks overlap in the same
// transaction; this direct insert exists for system paths and tests.
func (db *DB) CreateTimeSlot(ctx context.Context, slot *models.TimeSlot) error {
	now := time.Now().UTC()
	result, err := db.execContext(ctx,
		`INSERT INTO time_slots (provider_id, booking_id, start_at, end_at, is_active, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		slot.ProviderID, slot.BookingID, slot.StartAt.UTC(), slot.EndAt.UTC(), slot.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create time slot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	slot.ID = id
	slot.CreatedAt = now
	return nil
}

// DeactivateSlot marks the slot inactive. Already-inactive or absent slots
// are a no-op, not an error.
func (db *DB) DeactivateSlot(ctx context.Context, slotID int64) error {
	_, err := db.execContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE id = ?`, slotID)
	if err != nil {
		return fmt.Errorf("failed to deactivate slot: %w", err)
	}
	return nil
}

// DeactivateSlotsByBooking releases every slot held by the booking.
func (db *DB) DeactivateSlotsByBooking(ctx context.Context, bookingID int64) error {
	_, err := db.execContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE booking_id = ?`, bookingID)
	if err != nil {
		return fmt.Errorf("failed to deactivate slots for booking: %w", err)
	}
	return nil
}

// GetSlotsByBooking returns all slots (active or not) tied to a booking.
func (db *DB) GetSlotsByBooking(ctx context.Context, bookingID int64) ([]*models.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE booking_id = ? ORDER BY start_at ASC`
	rows, err := db.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func slotColumnsPrefixed() string {
	return `id, s.provider_id, s.booking_id, s.start_at, s.end_at, s.is_active, s.created_at`
}
