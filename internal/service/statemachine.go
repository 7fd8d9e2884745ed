package service

import (
	"context"
	"sync"
	"time"

	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/metrics"
	"slotter/internal/models"

	"github.com/rs/zerolog"
)

// Operation names a booking lifecycle transition.
type Operation string

const (
	OpAccept            Operation = "accept"
	OpConfirmReschedule Operation = "confirm_reschedule"
	OpCancel            Operation = "cancel"
	OpPaymentReceived   Operation = "payment_received"
	OpJobDone           Operation = "job_done"
	OpComplete          Operation = "complete"
)

// legalSources is the single transition table: the statuses from which each
// operation is permitted. Everything else is an illegal transition and is
// rejected by the guarded UPDATE in the repository, leaving the booking
// untouched.
var legalSources = map[Operation][]string{
	OpAccept: {
		models.StatusPendingProviderReview,
		models.StatusNeedRescheduling,
		models.StatusPendingProviderApproval,
	},
	OpConfirmReschedule: {
		models.StatusPendingUserApproval,
	},
	OpCancel: {
		models.StatusPendingProviderReview,
		models.StatusAcceptedByProvider,
		models.StatusNeedRescheduling,
	},
	OpPaymentReceived: {
		models.StatusAcceptedByProvider,
		models.StatusAwaitingPayment,
	},
	OpJobDone: {
		models.StatusPaymentReceived,
		models.StatusInProgress,
	},
	OpComplete: {
		models.StatusJobDone,
	},
}

// LegalSources exposes the permitted source statuses for an operation.
func LegalSources(op Operation) []string {
	return append([]string(nil), legalSources[op]...)
}

// ConflictResolver pushes out pending requests that collide with a freshly
// accepted window. Implemented by the rescheduling coordinator; wired after
// construction to keep the dependency one-way.
type ConflictResolver interface {
	ResolveConflicts(ctx context.Context, providerID int64, start, end time.Time, acceptedBookingID int64) (int, error)
}

// StateMachine owns booking lifecycle transitions. Mutations go through
// guarded repository writes; acceptance additionally serializes per provider
// so two accepts for one calendar never interleave between the overlap check
// and the slot insert.
type StateMachine struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	resolver ConflictResolver
	logger   *zerolog.Logger

	mu        sync.Mutex
	providers map[int64]*sync.Mutex
}

func NewStateMachine(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *StateMachine {
	return &StateMachine{
		repo:      repo,
		eventBus:  eventBus,
		logger:    logger,
		providers: make(map[int64]*sync.Mutex),
	}
}

// SetConflictResolver wires the rescheduling coordinator in. Optional; when
// unset, acceptance skips conflict push-out.
func (m *StateMachine) SetConflictResolver(r ConflictResolver) {
	m.resolver = r
}

func (m *StateMachine) providerLock(providerID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.providers[providerID]
	if !ok {
		lock = &sync.Mutex{}
		m.providers[providerID] = lock
	}
	return lock
}

// Accept fixes the negotiated price, notes and confirmed window, locks the
// slot and pushes out colliding pending requests for the same provider.
func (m *StateMachine) Accept(ctx context.Context, bookingID int64, price float64, notes string, start, end time.Time) (*models.Booking, error) {
	return m.accept(ctx, bookingID, OpAccept, price, notes, start, end)
}

// ConfirmReschedule is the user-side twin of Accept: it finalizes a
// provider-originated proposal once the user has approved it.
func (m *StateMachine) ConfirmReschedule(ctx context.Context, bookingID int64, price float64, notes string, start, end time.Time) (*models.Booking, error) {
	return m.accept(ctx, bookingID, OpConfirmReschedule, price, notes, start, end)
}

func (m *StateMachine) accept(ctx context.Context, bookingID int64, op Operation, price float64, notes string, start, end time.Time) (*models.Booking, error) {
	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	lock := m.providerLock(booking.ProviderID)
	lock.Lock()
	accepted, err := m.repo.AcceptBookingWithSlot(ctx, bookingID, legalSources[op], price, notes, start.UTC(), end.UTC())
	lock.Unlock()
	if err != nil {
		metrics.IncTransition(models.StatusAcceptedByProvider, "rejected")
		return nil, err
	}

	m.afterAccept(ctx, accepted, start.UTC(), end.UTC())
	return accepted, nil
}

// AcceptProposal finalizes a pending proposal and the booking acceptance it
// carries as one storage transaction: if the proposed window has been
// taken, nothing commits and the proposal stays pending and actionable.
// User-originated proposals run the provider's accept path; provider-
// originated ones run the user's confirmation path.
func (m *StateMachine) AcceptProposal(ctx context.Context, proposal *models.RescheduleProposal, responseMessage string, price float64, notes string, start, end time.Time) (*models.RescheduleProposal, *models.Booking, error) {
	op := OpConfirmReschedule
	if proposal.ProposedBy == models.ActorUser {
		op = OpAccept
	}

	booking, err := m.repo.GetBooking(ctx, proposal.BookingID)
	if err != nil {
		return nil, nil, err
	}

	lock := m.providerLock(booking.ProviderID)
	lock.Lock()
	resolved, accepted, err := m.repo.AcceptProposalWithSlot(ctx, proposal.ID, responseMessage, legalSources[op], price, notes, start.UTC(), end.UTC())
	lock.Unlock()
	if err != nil {
		metrics.IncTransition(models.StatusAcceptedByProvider, "rejected")
		return nil, nil, err
	}

	m.afterAccept(ctx, accepted, start.UTC(), end.UTC())
	return resolved, accepted, nil
}

func (m *StateMachine) afterAccept(ctx context.Context, accepted *models.Booking, start, end time.Time) {
	metrics.IncTransition(models.StatusAcceptedByProvider, "ok")

	m.publish(events.EventBookingAccepted, accepted, models.ActorProvider, "")

	if m.resolver != nil {
		moved, err := m.resolver.ResolveConflicts(ctx, accepted.ProviderID, start, end, accepted.ID)
		if err != nil {
			m.logger.Error().Err(err).Int64("booking_id", accepted.ID).Msg("conflict push-out failed")
		} else if moved > 0 {
			m.logger.Info().Int("moved", moved).Int64("booking_id", accepted.ID).Msg("pending requests pushed to rescheduling")
		}
	}
}

// Cancel moves the booking to Cancelled and releases its slot.
func (m *StateMachine) Cancel(ctx context.Context, bookingID int64, actor, reason string) error {
	if err := m.repo.CancelBooking(ctx, bookingID, legalSources[OpCancel], actor, reason); err != nil {
		metrics.IncTransition(models.StatusCancelled, "rejected")
		return err
	}
	metrics.IncTransition(models.StatusCancelled, "ok")

	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err == nil {
		m.publish(events.EventBookingCancelled, booking, actor, reason)
	}
	return nil
}

// MarkPaymentReceived records the payment gateway outcome.
func (m *StateMachine) MarkPaymentReceived(ctx context.Context, bookingID int64, meta models.PaymentMeta) error {
	if err := m.repo.MarkPaymentReceived(ctx, bookingID, legalSources[OpPaymentReceived], meta); err != nil {
		metrics.IncTransition(models.StatusPaymentReceived, "rejected")
		return err
	}
	metrics.IncTransition(models.StatusPaymentReceived, "ok")

	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err == nil {
		m.publish(events.EventPaymentReceived, booking, "", "")
	}
	return nil
}

// MarkJobDone records that the provider reported the work finished.
func (m *StateMachine) MarkJobDone(ctx context.Context, bookingID int64) error {
	if err := m.repo.MarkJobDone(ctx, bookingID, legalSources[OpJobDone]); err != nil {
		metrics.IncTransition(models.StatusJobDone, "rejected")
		return err
	}
	metrics.IncTransition(models.StatusJobDone, "ok")

	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err == nil {
		m.publish(events.EventJobDone, booking, models.ActorProvider, "")
	}
	return nil
}

// MarkCompleted closes out the booking and releases its slot.
func (m *StateMachine) MarkCompleted(ctx context.Context, bookingID int64) error {
	if err := m.repo.CompleteBooking(ctx, bookingID, legalSources[OpComplete]); err != nil {
		metrics.IncTransition(models.StatusCompleted, "rejected")
		return err
	}
	metrics.IncTransition(models.StatusCompleted, "ok")

	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err == nil {
		m.publish(events.EventBookingCompleted, booking, "", "")
	}
	return nil
}

// ForceStatus is the unconditional system path used by the sweepers. A
// terminal target releases the booking's slot.
func (m *StateMachine) ForceStatus(ctx context.Context, bookingID int64, status string) error {
	if err := m.repo.ForceBookingStatus(ctx, bookingID, status); err != nil {
		return err
	}
	metrics.IncTransition(status, "forced")

	booking, err := m.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil
	}
	switch status {
	case models.StatusAutoCancelled:
		m.publish(events.EventBookingAutoCancel, booking, models.ActorSystem, "provider did not respond in time")
	case models.StatusNeedRescheduling:
		m.publish(events.EventRescheduleRequired, booking, models.ActorSystem, "")
	}
	return nil
}

func (m *StateMachine) publish(eventType string, booking *models.Booking, actor, reason string) {
	if m.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:  booking.ID,
		ServiceID:  booking.ServiceID,
		UserID:     booking.UserID,
		ProviderID: booking.ProviderID,
		Status:     booking.Status,
		StartAt:    booking.ConfirmedStart,
		EndAt:      booking.ConfirmedEnd,
		Actor:      actor,
		Reason:     reason,
	}

	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
