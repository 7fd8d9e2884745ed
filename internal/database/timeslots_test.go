package database

import (
	"context"
	"testing"
	"time"

	"slotter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptAt(t *testing.T, db *DB, providerID int64, start, end time.Time) *models.Booking {
	t.Helper()
	ctx := context.Background()
	booking := newTestBooking(start, &end)
	booking.ProviderID = providerID
	require.NoError(t, db.CreateBooking(ctx, booking))
	accepted, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 100, "", start, end)
	require.NoError(t, err)
	return accepted
}

func TestHasOverlapHalfOpen(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	acceptAt(t, db, 100, start, end)

	cases := []struct {
		name    string
		start   time.Time
		end     time.Time
		overlap bool
	}{
		{"identical window", start, end, true},
		{"contained", start.Add(30 * time.Minute), end.Add(-30 * time.Minute), true},
		{"straddles start", start.Add(-time.Hour), start.Add(time.Minute), true},
		{"straddles end", end.Add(-time.Minute), end.Add(time.Hour), true},
		{"back to back before", start.Add(-time.Hour), start, false},
		{"back to back after", end, end.Add(time.Hour), false},
		{"disjoint earlier", start.Add(-3 * time.Hour), start.Add(-2 * time.Hour), false},
		{"disjoint later", end.Add(time.Hour), end.Add(2 * time.Hour), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := db.HasOverlap(ctx, 100, tc.start, tc.end, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.overlap, got)
		})
	}
}

func TestHasOverlapScopedToProvider(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	acceptAt(t, db, 100, start, end)

	got, err := db.HasOverlap(ctx, 200, start, end, 0)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHasOverlapExcludesOwnBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	booking := acceptAt(t, db, 100, start, end)

	got, err := db.HasOverlap(ctx, 100, start, end, booking.ID)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSlotIgnoredWhenBookingTerminal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	booking := acceptAt(t, db, 100, start, end)

	// Force the booking terminal without going through CancelBooking, so the
	// slot row itself stays active. The overlap check must still ignore it.
	_, err := db.execContext(ctx, `UPDATE bookings SET status = ? WHERE id = ?`,
		models.StatusCancelled, booking.ID)
	require.NoError(t, err)
	_, err = db.execContext(ctx, `UPDATE time_slots SET is_active = 1 WHERE booking_id = ?`, booking.ID)
	require.NoError(t, err)

	got, err := db.HasOverlap(ctx, 100, start, end, 0)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestOverlappingOrdered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	late := acceptAt(t, db, 100, base.Add(4*time.Hour), base.Add(5*time.Hour))
	early := acceptAt(t, db, 100, base, base.Add(time.Hour))

	slots, err := db.Overlapping(ctx, 100, base.Add(-time.Hour), base.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, early.ID, slots[0].BookingID)
	assert.Equal(t, late.ID, slots[1].BookingID)
}

func TestCoversInstant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	acceptAt(t, db, 100, start, end)

	covered, err := db.CoversInstant(ctx, 100, start)
	require.NoError(t, err)
	assert.True(t, covered, "start boundary is inside the half-open window")

	covered, err = db.CoversInstant(ctx, 100, start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, covered)

	covered, err = db.CoversInstant(ctx, 100, end)
	require.NoError(t, err)
	assert.False(t, covered, "end boundary is outside the half-open window")
}

func TestDeactivateSlotsByBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booking := acceptAt(t, db, 100, start, end)

	require.NoError(t, db.DeactivateSlotsByBooking(ctx, booking.ID))

	slots, err := db.GetSlotsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].IsActive)
}
