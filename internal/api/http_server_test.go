package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"slotter/internal/config"
	"slotter/internal/database"
	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/models"
	"slotter/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	db      *database.DB
	handler http.Handler
	sm      *service.StateMachine
}

func newAPIHarness(t *testing.T, cfg config.APIConfig) *apiHarness {
	return newAPIHarnessWithCache(t, cfg, nil)
}

func newAPIHarnessWithCache(t *testing.T, cfg config.APIConfig, cache domain.BlockCache) *apiHarness {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// "Anytime" has no parseable duty hours, so only lead time and slot
	// overlap constrain its bookings.
	dir := service.NewProviderDirectory([]models.Provider{
		{ID: 100, Name: "Anytime", WorkingHours: "always", IsActive: true},
	})
	bus := events.NewEventBus()
	sm := service.NewStateMachine(db, bus, &logger)
	coord := service.NewCoordinator(db, sm, bus, models.AssumedDuration, &logger)
	sm.SetConflictResolver(coord)
	blocks := service.NewBlockLedger(db, nil, bus, &logger)
	validator := service.NewValidator(db, dir, config.SchedulingConfig{MinLeadMinutes: 120, AssumedDurationMinutes: 60}, &logger)
	booking := service.NewBookingService(db, validator, blocks, bus, &logger)

	srv := NewServer(cfg, booking, sm, coord, cache, false, &logger)
	return &apiHarness{db: db, handler: srv.Handler(), sm: sm}
}

func openConfig() config.APIConfig {
	return config.APIConfig{Enabled: true, Port: 0}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) pendingBooking(t *testing.T, start time.Time, end *time.Time) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ServiceID:      10,
		UserID:         1,
		ProviderID:     100,
		Status:         models.StatusPendingProviderReview,
		RequestedDate:  start.Truncate(24 * time.Hour),
		RequestedStart: start,
		RequestedEnd:   end,
	}
	require.NoError(t, h.db.CreateBooking(context.Background(), b))
	return b
}

func futureStart() time.Time {
	return time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
}

func TestCreateBookingEndpoint(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	end := start.Add(2 * time.Hour)
	rec := h.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"service_id": 10, "user_id": 1, "provider_id": 100,
		"start": start, "end": end,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.StatusPendingProviderReview, booking.Status)
	assert.NotZero(t, booking.ID)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestCreateBookingRefusedReason(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	// 30 minutes out violates the two-hour lead time.
	rec := h.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"service_id": 10, "user_id": 1, "provider_id": 100,
		"start": time.Now().UTC().Add(30 * time.Minute),
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["reason"], "at least")
}

func TestCreateBookingMissingFields(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	rec := h.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{"user_id": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptEndpoint(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	end := start.Add(2 * time.Hour)
	b := h.pendingBooking(t, start, &end)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/accept", b.ID), map[string]any{
		"price": 150, "notes": "gate code 4711", "start": start, "end": end,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.StatusAcceptedByProvider, booking.Status)
	assert.Equal(t, float64(150), booking.Price)

	// A second booking for the same window cannot be accepted.
	other := h.pendingBooking(t, start.Add(time.Hour), nil)
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/accept", other.ID), map[string]any{
		"price": 100, "start": start.Add(time.Hour),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAcceptIllegalState(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	b := h.pendingBooking(t, start, nil)
	require.NoError(t, h.db.ForceBookingStatus(context.Background(), b.ID, models.StatusCancelled))

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/accept", b.ID), map[string]any{
		"price": 100, "start": start,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentJobDoneCompleteEndpoints(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	end := start.Add(time.Hour)
	b := h.pendingBooking(t, start, &end)
	_, err := h.sm.Accept(context.Background(), b.ID, 100, "", start, end)
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/payment", b.ID),
		models.PaymentMeta{TransactionID: "tx-1", Method: "card"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payResp))
	assert.NotEmpty(t, payResp["validation_id"], "validation id generated when absent")

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/job-done", b.ID), map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/complete", b.ID), map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := h.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestCancelEndpointValidation(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	b := h.pendingBooking(t, futureStart(), nil)
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", b.ID),
		map[string]any{"actor": "martian"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", b.ID),
		map[string]any{"actor": "user", "reason": "changed plans"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProposalEndpoints(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	b := h.pendingBooking(t, start, nil)

	newStart := start.Add(3 * time.Hour)
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/proposals", b.ID), map[string]any{
		"actor": "provider", "start": newStart, "price": 175, "message": "earlier is taken",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var proposal models.RescheduleProposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))
	assert.Equal(t, models.ProposalPending, proposal.Status)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/respond", proposal.ID),
		map[string]any{"accept": true, "message": "fine"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.StatusAcceptedByProvider, booking.Status)
	assert.Equal(t, float64(175), booking.Price)

	// Responding again conflicts.
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/respond", proposal.ID),
		map[string]any{"accept": true}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBookingNotFound(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	rec := h.do(t, http.MethodGet, "/api/v1/bookings/9999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailabilityEndpoint(t *testing.T) {
	h := newAPIHarness(t, openConfig())

	start := futureStart()
	end := start.Add(2 * time.Hour)
	b := h.pendingBooking(t, start, &end)
	_, err := h.sm.Accept(context.Background(), b.ID, 100, "", start, end)
	require.NoError(t, err)

	query := fmt.Sprintf("/api/v1/availability?provider_id=100&start=%s&end=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	rec := h.do(t, http.MethodGet, query, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["available"])
	assert.NotEmpty(t, resp["reason"])

	rec = h.do(t, http.MethodGet, "/api/v1/availability?provider_id=100", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t, openConfig())
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEndpointLabelCollapsesIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/42/accept", nil)
	assert.Equal(t, "POST /api/v1/bookings/:id/accept", endpointLabel(req))
}
