package database

import (
	"context"
	"os"
	"testing"
	"time"

	"slotter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestBooking(start time.Time, end *time.Time) *models.Booking {
	return &models.Booking{
		ServiceID:      10,
		UserID:         1,
		ProviderID:     100,
		Status:         models.StatusPendingProviderReview,
		RequestedDate:  start.Truncate(24 * time.Hour),
		RequestedStart: start,
		RequestedEnd:   end,
	}
}

var acceptSources = []string{
	models.StatusPendingProviderReview,
	models.StatusNeedRescheduling,
	models.StatusPendingProviderApproval,
}

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NotZero(t, booking.ID)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingProviderReview, got.Status)
	assert.True(t, got.RequestedStart.Equal(start))
	require.NotNil(t, got.RequestedEnd)
	assert.True(t, got.RequestedEnd.Equal(end))
	assert.Nil(t, got.ConfirmedStart)
	assert.Equal(t, int64(1), got.Version)
}

func TestGetBookingNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetBooking(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptBookingWithSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))

	accepted, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 150, "bring ladder", start, end)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcceptedByProvider, accepted.Status)
	assert.Equal(t, float64(150), accepted.Price)
	require.NotNil(t, accepted.ConfirmedStart)
	assert.True(t, accepted.ConfirmedStart.Equal(start))
	require.NotNil(t, accepted.AcceptedAt)

	slots, err := db.GetSlotsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.True(t, slots[0].IsActive)
	assert.True(t, slots[0].StartAt.Equal(start))
	assert.True(t, slots[0].EndAt.Equal(end))
}

func TestAcceptBookingIllegalSourceDoesNotMutate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NoError(t, db.ForceBookingStatus(ctx, booking.ID, models.StatusCompleted))

	_, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 150, "", start, end)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Zero(t, got.Price)

	slots, err := db.GetSlotsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAcceptBookingSlotConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	first := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, first))
	_, err := db.AcceptBookingWithSlot(ctx, first.ID, acceptSources, 100, "", start, end)
	require.NoError(t, err)

	// Overlapping request for the same provider.
	secondStart := start.Add(time.Hour)
	secondEnd := secondStart.Add(2 * time.Hour)
	second := newTestBooking(secondStart, &secondEnd)
	require.NoError(t, db.CreateBooking(ctx, second))

	_, err = db.AcceptBookingWithSlot(ctx, second.ID, acceptSources, 100, "", secondStart, secondEnd)
	assert.ErrorIs(t, err, ErrSlotConflict)

	got, err := db.GetBooking(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingProviderReview, got.Status)
}

func TestAcceptBookingClearsProposalFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))

	price := 175.0
	require.NoError(t, db.SetBookingProposal(ctx, booking.ID, models.ActorProvider, start.Add(time.Hour), nil, &price, "later works better"))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActorProvider, got.ProposedBy)
	require.NotNil(t, got.ProposedPrice)

	_, err = db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 175, "", start, end)
	require.NoError(t, err)

	got, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ProposedBy)
	assert.Nil(t, got.ProposedStart)
	assert.Nil(t, got.ProposedPrice)
	assert.Empty(t, got.ProposedNotes)
}

func TestCancelBookingReleasesSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))
	_, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 100, "", start, end)
	require.NoError(t, err)

	cancelSources := []string{models.StatusPendingProviderReview, models.StatusAcceptedByProvider, models.StatusNeedRescheduling}
	require.NoError(t, db.CancelBooking(ctx, booking.ID, cancelSources, models.ActorUser, "changed plans"))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.ActorUser, got.CancelledBy)
	assert.Equal(t, "changed plans", got.CancelReason)
	require.NotNil(t, got.CancelledAt)

	slots, err := db.GetSlotsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].IsActive)

	// The released window is free again.
	overlap, err := db.HasOverlap(ctx, booking.ProviderID, start, end, 0)
	require.NoError(t, err)
	assert.False(t, overlap)
}

func TestCancelBookingIllegalSource(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	booking := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NoError(t, db.ForceBookingStatus(ctx, booking.ID, models.StatusPaymentReceived))

	cancelSources := []string{models.StatusPendingProviderReview, models.StatusAcceptedByProvider, models.StatusNeedRescheduling}
	err := db.CancelBooking(ctx, booking.ID, cancelSources, models.ActorUser, "too late")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentReceived, got.Status)
	assert.Empty(t, got.CancelledBy)
}

func TestMarkPaymentReceived(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))
	_, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 100, "", start, end)
	require.NoError(t, err)

	meta := models.PaymentMeta{
		TransactionID: "tx-123",
		ValidationID:  "val-456",
		Method:        "card",
		BankRef:       "bank-789",
		Status:        "settled",
	}
	sources := []string{models.StatusAcceptedByProvider, models.StatusAwaitingPayment}
	require.NoError(t, db.MarkPaymentReceived(ctx, booking.ID, sources, meta))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentReceived, got.Status)
	assert.Equal(t, meta, got.Payment)
	require.NotNil(t, got.PaymentAt)

	// Second call is rejected and mutates nothing.
	err = db.MarkPaymentReceived(ctx, booking.ID, sources, models.PaymentMeta{TransactionID: "tx-other"})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	got, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-123", got.Payment.TransactionID)
}

func TestJobDoneAndComplete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	booking := newTestBooking(start, &end)
	require.NoError(t, db.CreateBooking(ctx, booking))
	_, err := db.AcceptBookingWithSlot(ctx, booking.ID, acceptSources, 100, "", start, end)
	require.NoError(t, err)
	require.NoError(t, db.MarkPaymentReceived(ctx, booking.ID,
		[]string{models.StatusAcceptedByProvider, models.StatusAwaitingPayment}, models.PaymentMeta{}))

	jobDoneSources := []string{models.StatusPaymentReceived, models.StatusInProgress}
	require.NoError(t, db.MarkJobDone(ctx, booking.ID, jobDoneSources))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusJobDone, got.Status)
	require.NotNil(t, got.JobDoneAt)

	// Complete releases the slot.
	require.NoError(t, db.CompleteBooking(ctx, booking.ID, []string{models.StatusJobDone}))
	got, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	slots, err := db.GetSlotsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].IsActive)
}

func TestCompleteRejectsNonJobDone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	booking := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, booking))

	err := db.CompleteBooking(ctx, booking.ID, []string{models.StatusJobDone})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestForceBookingStatusAutoCancelled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	booking := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, booking))

	require.NoError(t, db.ForceBookingStatus(ctx, booking.ID, models.StatusAutoCancelled))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAutoCancelled, got.Status)
	assert.Equal(t, models.ActorSystem, got.CancelledBy)
	require.NotNil(t, got.CancelledAt)
}

func TestGetStalePendingBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(24 * time.Hour)
	stale := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, stale))
	fresh := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, fresh))

	// Backdate one booking past the cutoff.
	_, err := db.execContext(ctx, `UPDATE bookings SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-13*time.Hour), stale.ID)
	require.NoError(t, err)

	got, err := db.GetStalePendingBookings(ctx, time.Now().UTC().Add(-12*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestCountAutoCancelledForService(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		b := newTestBooking(start, nil)
		require.NoError(t, db.CreateBooking(ctx, b))
		require.NoError(t, db.ForceBookingStatus(ctx, b.ID, models.StatusAutoCancelled))
	}

	// One cancellation outside the trailing window.
	old := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, old))
	require.NoError(t, db.ForceBookingStatus(ctx, old.ID, models.StatusAutoCancelled))
	_, err := db.execContext(ctx, `UPDATE bookings SET cancelled_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-8*24*time.Hour), old.ID)
	require.NoError(t, err)

	count, err := db.CountAutoCancelledForService(ctx, 10, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestTransitionStatusGuard(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	booking := newTestBooking(start, nil)
	require.NoError(t, db.CreateBooking(ctx, booking))

	err := db.TransitionStatus(ctx, booking.ID, models.StatusNeedRescheduling,
		[]string{models.StatusPendingProviderReview})
	require.NoError(t, err)

	// Same transition again fails: the source state no longer matches.
	err = db.TransitionStatus(ctx, booking.ID, models.StatusNeedRescheduling,
		[]string{models.StatusPendingProviderReview})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = db.TransitionStatus(ctx, 9999, models.StatusNeedRescheduling,
		[]string{models.StatusPendingProviderReview})
	assert.ErrorIs(t, err, ErrNotFound)
}
