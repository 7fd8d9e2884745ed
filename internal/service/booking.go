package service

import (
	"context"
	"time"

	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/models"

	"github.com/rs/zerolog"
)

// ReasonServiceBlocked is returned when intake refuses a blocked service.
const ReasonServiceBlocked = "this service is temporarily suspended"

// BookingRequest is the intake payload for a new booking.
type BookingRequest struct {
	ServiceID  int64      `json:"service_id"`
	UserID     int64      `json:"user_id"`
	ProviderID int64      `json:"provider_id"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// BookingService is the intake facade: it validates the requested time,
// refuses blocked services and files the booking for provider review.
type BookingService struct {
	repo      domain.Repository
	validator *Validator
	blocks    *BlockLedger
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewBookingService(repo domain.Repository, validator *Validator, blocks *BlockLedger, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:      repo,
		validator: validator,
		blocks:    blocks,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// CreateBooking files a new booking in PendingProviderReview. A non-empty
// reason with a nil error means the request was refused by a scheduling or
// blocking rule; the caller renders the reason verbatim.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*models.Booking, string, error) {
	blocked, err := s.blocks.IsBlocked(ctx, req.ServiceID)
	if err != nil {
		return nil, "", err
	}
	if blocked {
		return nil, ReasonServiceBlocked, nil
	}

	ok, reason, err := s.validator.ValidateBookingTime(ctx, req.ProviderID, req.Start, req.End)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, reason, nil
	}

	start := req.Start.UTC()
	booking := &models.Booking{
		ServiceID:      req.ServiceID,
		UserID:         req.UserID,
		ProviderID:     req.ProviderID,
		Status:         models.StatusPendingProviderReview,
		RequestedDate:  time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		RequestedStart: start,
		RequestedEnd:   req.End,
		Notes:          req.Notes,
	}
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return nil, "", err
	}

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventBookingCreated, events.BookingEventPayload{
			BookingID:  booking.ID,
			ServiceID:  booking.ServiceID,
			UserID:     booking.UserID,
			ProviderID: booking.ProviderID,
			Status:     booking.Status,
			StartAt:    &booking.RequestedStart,
			EndAt:      booking.RequestedEnd,
			Actor:      models.ActorUser,
		})
	}

	s.logger.Info().Int64("booking_id", booking.ID).Int64("provider_id", booking.ProviderID).
		Time("start", booking.RequestedStart).Msg("booking filed for provider review")
	return booking, "", nil
}

// GetBooking fetches one booking.
func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// CheckAvailability answers whether the window is currently bookable,
// without filing anything.
func (s *BookingService) CheckAvailability(ctx context.Context, providerID int64, start time.Time, end *time.Time) (bool, string, error) {
	return s.validator.ValidateBookingTime(ctx, providerID, start, end)
}
