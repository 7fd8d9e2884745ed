package service

import (
	"context"
	"fmt"
	"time"

	"slotter/internal/database"
	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/models"

	"github.com/rs/zerolog"
)

// Coordinator handles time renegotiation: pushing out pending requests that
// lost their window to an acceptance, and the proposal/counter-offer flow
// between the two parties.
type Coordinator struct {
	repo     domain.Repository
	sm       *StateMachine
	eventBus domain.EventPublisher
	assumed  time.Duration
	logger   *zerolog.Logger
}

func NewCoordinator(repo domain.Repository, sm *StateMachine, eventBus domain.EventPublisher, assumed time.Duration, logger *zerolog.Logger) *Coordinator {
	if assumed <= 0 {
		assumed = models.AssumedDuration
	}
	return &Coordinator{
		repo:     repo,
		sm:       sm,
		eventBus: eventBus,
		assumed:  assumed,
		logger:   logger,
	}
}

// ResolveConflicts moves every pending request for the provider whose
// requested window collides with [start, end) into NeedRescheduling.
// Requests without an end time are assumed to run for the configured
// fallback duration. Per-item failures are logged and skipped.
func (c *Coordinator) ResolveConflicts(ctx context.Context, providerID int64, start, end time.Time, acceptedBookingID int64) (int, error) {
	pending, err := c.repo.GetPendingByProvider(ctx, providerID)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, b := range pending {
		if b.ID == acceptedBookingID {
			continue
		}
		reqStart, reqEnd := b.RequestedWindow(c.assumed)
		if !(reqStart.Before(end) && reqEnd.After(start)) {
			continue
		}

		err := c.repo.TransitionStatus(ctx, b.ID, models.StatusNeedRescheduling,
			[]string{models.StatusPendingProviderReview})
		if err != nil {
			c.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to push booking to rescheduling")
			continue
		}
		moved++

		if c.eventBus != nil {
			_ = c.eventBus.PublishJSON(events.EventRescheduleRequired, events.BookingEventPayload{
				BookingID:  b.ID,
				ServiceID:  b.ServiceID,
				UserID:     b.UserID,
				ProviderID: b.ProviderID,
				Status:     models.StatusNeedRescheduling,
				Actor:      models.ActorSystem,
				Reason:     "requested window was taken by another booking",
			})
		}
	}

	return moved, nil
}

// proposalShiftSources are the booking statuses from which raising a
// proposal parks the booking in the counterpart's approval queue.
var proposalShiftSources = []string{
	models.StatusPendingProviderReview,
	models.StatusNeedRescheduling,
	models.StatusAcceptedByProvider,
	models.StatusPendingProviderApproval,
	models.StatusPendingUserApproval,
}

// Propose raises a counter-offer on the booking and parks the booking in
// the other party's approval status. The proposal snapshot is mirrored onto
// the booking row for cheap display.
func (c *Coordinator) Propose(ctx context.Context, bookingID int64, actor string, start time.Time, end *time.Time, price *float64, message string) (*models.RescheduleProposal, error) {
	booking, err := c.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(booking.Status) {
		return nil, fmt.Errorf("%w: booking %d is %s", database.ErrIllegalTransition, bookingID, booking.Status)
	}

	target := models.StatusPendingProviderApproval
	if actor == models.ActorProvider {
		target = models.StatusPendingUserApproval
	}

	proposal := &models.RescheduleProposal{
		BookingID:  bookingID,
		ProposedBy: actor,
		StartAt:    start.UTC(),
		EndAt:      end,
		Price:      price,
		Message:    message,
	}
	if err := c.repo.CreateProposal(ctx, proposal); err != nil {
		return nil, err
	}

	if err := c.repo.SetBookingProposal(ctx, bookingID, actor, start.UTC(), end, price, message); err != nil {
		c.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("failed to mirror proposal onto booking")
	}

	if err := c.repo.TransitionStatus(ctx, bookingID, target, proposalShiftSources); err != nil {
		c.logger.Warn().Err(err).Int64("booking_id", bookingID).Str("target", target).
			Msg("booking not parked in approval status")
	}

	if c.eventBus != nil {
		_ = c.eventBus.PublishJSON(events.EventProposalCreated, events.ProposalEventPayload{
			ProposalID: proposal.ID,
			BookingID:  bookingID,
			ProposedBy: actor,
			StartAt:    proposal.StartAt,
			EndAt:      proposal.EndAt,
			Status:     models.ProposalPending,
		})
	}

	return proposal, nil
}

// Respond finalizes a proposal. Accepting runs as one storage transaction:
// the proposal flip, sibling expiry and the booking's slot claim commit
// together, so a window lost since Propose leaves every proposal pending.
// Rejecting touches only the proposal itself.
func (c *Coordinator) Respond(ctx context.Context, proposalID int64, accept bool, responseMessage string) (*models.Booking, error) {
	if !accept {
		if err := c.repo.RejectProposal(ctx, proposalID, responseMessage); err != nil {
			return nil, err
		}
		proposal, err := c.repo.GetProposal(ctx, proposalID)
		if err == nil && c.eventBus != nil {
			_ = c.eventBus.PublishJSON(events.EventProposalRejected, events.ProposalEventPayload{
				ProposalID: proposal.ID,
				BookingID:  proposal.BookingID,
				ProposedBy: proposal.ProposedBy,
				StartAt:    proposal.StartAt,
				EndAt:      proposal.EndAt,
				Status:     models.ProposalRejected,
			})
		}
		return nil, nil
	}

	proposal, err := c.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	booking, err := c.repo.GetBooking(ctx, proposal.BookingID)
	if err != nil {
		return nil, err
	}

	price := booking.Price
	if proposal.Price != nil {
		price = *proposal.Price
	}
	start := proposal.StartAt
	end := start.Add(c.assumed)
	if proposal.EndAt != nil {
		end = *proposal.EndAt
	}

	resolved, updated, err := c.sm.AcceptProposal(ctx, proposal, responseMessage, price, booking.Notes, start, end)
	if err != nil {
		return nil, err
	}

	if c.eventBus != nil {
		_ = c.eventBus.PublishJSON(events.EventProposalAccepted, events.ProposalEventPayload{
			ProposalID: resolved.ID,
			BookingID:  resolved.BookingID,
			ProposedBy: resolved.ProposedBy,
			StartAt:    resolved.StartAt,
			EndAt:      resolved.EndAt,
			Status:     models.ProposalAccepted,
		})
	}

	return updated, nil
}

// ExpirePending bulk-expires all pending proposals on a booking except the
// named one. Pass 0 to expire everything pending.
func (c *Coordinator) ExpirePending(ctx context.Context, bookingID, exceptProposalID int64) (int64, error) {
	return c.repo.ExpirePendingProposals(ctx, bookingID, exceptProposalID)
}
