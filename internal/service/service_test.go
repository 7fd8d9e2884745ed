package service

import (
	"context"
	"os"
	"testing"
	"time"

	"slotter/internal/config"
	"slotter/internal/database"
	"slotter/internal/events"
	"slotter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// harness wires the service layer against an in-memory sqlite store, the
// way cmd/server does, with a pinned clock for the validator.
type harness struct {
	db        *database.DB
	bus       *events.EventBus
	sm        *StateMachine
	coord     *Coordinator
	blocks    *BlockLedger
	validator *Validator
	booking   *BookingService
	now       time.Time
}

var testProviders = []models.Provider{
	{ID: 100, Name: "Alpha", WorkingHours: "09:00-17:00", IsActive: true},
	{ID: 200, Name: "Bravo", WorkingHours: "garbled nonsense", IsActive: true},
	{ID: 300, Name: "Charlie", WorkingHours: "9:00 AM - 5:00 PM", IsActive: true},
	{ID: 400, Name: "Dormant", WorkingHours: "09:00-17:00", IsActive: false},
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := NewProviderDirectory(testProviders)
	bus := events.NewEventBus()

	sm := NewStateMachine(db, bus, &logger)
	coord := NewCoordinator(db, sm, bus, models.AssumedDuration, &logger)
	sm.SetConflictResolver(coord)

	blocks := NewBlockLedger(db, nil, bus, &logger)

	cfg := config.SchedulingConfig{MinLeadMinutes: 120, AssumedDurationMinutes: 60}
	validator := NewValidator(db, dir, cfg, &logger)
	// Pin the clock so lead-time checks are deterministic.
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	validator.now = func() time.Time { return now }

	booking := NewBookingService(db, validator, blocks, bus, &logger)

	return &harness{
		db:        db,
		bus:       bus,
		sm:        sm,
		coord:     coord,
		blocks:    blocks,
		validator: validator,
		booking:   booking,
		now:       now,
	}
}

func (h *harness) createPending(t *testing.T, providerID int64, start time.Time, end *time.Time) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ServiceID:      10,
		UserID:         1,
		ProviderID:     providerID,
		Status:         models.StatusPendingProviderReview,
		RequestedDate:  start.Truncate(24 * time.Hour),
		RequestedStart: start,
		RequestedEnd:   end,
	}
	require.NoError(t, h.db.CreateBooking(context.Background(), b))
	return b
}
