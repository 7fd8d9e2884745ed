package notify

import (
	"encoding/json"
	"fmt"

	"slotter/internal/domain"
	"slotter/internal/events"
)

// RegisterSubscribers wires the lifecycle events to user/provider
// notifications. Messages are plain text; rendering stays out of the core
// services.
func RegisterSubscribers(bus *events.EventBus, notifier domain.Notifier) {
	onBooking := func(eventType string, handler func(p events.BookingEventPayload)) {
		bus.Subscribe(eventType, func(e *events.Event) error {
			var p events.BookingEventPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return err
			}
			handler(p)
			return nil
		})
	}

	onBooking(events.EventBookingCreated, func(p events.BookingEventPayload) {
		notifier.NotifyProvider(p.ProviderID,
			fmt.Sprintf("New booking request #%d. Please accept or propose another time.", p.BookingID))
	})

	onBooking(events.EventBookingAccepted, func(p events.BookingEventPayload) {
		when := ""
		if p.StartAt != nil {
			when = " for " + p.StartAt.Format("2006-01-02 15:04")
		}
		notifier.NotifyUser(p.UserID, fmt.Sprintf("Your booking #%d was accepted%s.", p.BookingID, when))
	})

	onBooking(events.EventBookingCancelled, func(p events.BookingEventPayload) {
		text := fmt.Sprintf("Booking #%d was cancelled.", p.BookingID)
		if p.Reason != "" {
			text += " Reason: " + p.Reason
		}
		notifier.NotifyUser(p.UserID, text)
		notifier.NotifyProvider(p.ProviderID, text)
	})

	onBooking(events.EventBookingAutoCancel, func(p events.BookingEventPayload) {
		notifier.NotifyUser(p.UserID,
			fmt.Sprintf("Booking #%d expired: the provider did not respond in time.", p.BookingID))
		notifier.NotifyProvider(p.ProviderID,
			fmt.Sprintf("Booking #%d was auto-cancelled because it went unanswered.", p.BookingID))
	})

	onBooking(events.EventRescheduleRequired, func(p events.BookingEventPayload) {
		notifier.NotifyUser(p.UserID,
			fmt.Sprintf("The requested time for booking #%d is no longer available. Please pick another time.", p.BookingID))
	})

	onBooking(events.EventPaymentReceived, func(p events.BookingEventPayload) {
		notifier.NotifyProvider(p.ProviderID,
			fmt.Sprintf("Payment received for booking #%d.", p.BookingID))
	})

	onBooking(events.EventJobDone, func(p events.BookingEventPayload) {
		notifier.NotifyUser(p.UserID,
			fmt.Sprintf("The provider marked booking #%d as done. Please confirm completion.", p.BookingID))
	})

	onBooking(events.EventBookingCompleted, func(p events.BookingEventPayload) {
		notifier.NotifyProvider(p.ProviderID,
			fmt.Sprintf("Booking #%d closed out.", p.BookingID))
	})
}
