package models

import "time"

// Booking statuses. Stored as strings so the table stays readable in sqlite.
const (
	StatusPendingProviderReview   = "pending_provider_review"
	StatusNeedRescheduling        = "need_rescheduling"
	StatusPendingProviderApproval = "pending_provider_approval"
	StatusPendingUserApproval     = "pending_user_approval"
	StatusAcceptedByProvider      = "accepted_by_provider"
	StatusAwaitingPayment         = "awaiting_payment"
	StatusPaymentReceived         = "payment_received"
	StatusInProgress              = "in_progress"
	StatusJobDone                 = "job_done"
	StatusCompleted               = "completed"
	StatusCancelled               = "cancelled"
	StatusAutoCancelled           = "auto_cancelled"
	StatusDisputed                = "disputed"
)

// Actors that drive transitions.
const (
	ActorUser     = "user"
	ActorProvider = "provider"
	ActorSystem   = "system"
)

// TerminalStatuses are the statuses with no outgoing transitions. A slot
// locked by a booking is released exactly when the booking reaches one of
// these.
var TerminalStatuses = []string{StatusCompleted, StatusCancelled, StatusAutoCancelled}

// IsTerminalStatus reports whether status admits no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusAutoCancelled:
		return true
	default:
		return false
	}
}

// PaymentMeta carries the payment-gateway outcome attached to a booking.
type PaymentMeta struct {
	TransactionID string `json:"transaction_id"`
	ValidationID  string `json:"validation_id"`
	Method        string `json:"method"`
	BankRef       string `json:"bank_ref"`
	Status        string `json:"status"`
}

// Booking is a time-bound service request between a user and a provider.
// The requested window is what the user asked for; the confirmed window is
// fixed on provider acceptance and backs the provider's time-slot lock.
type Booking struct {
	ID         int64 `json:"id"`
	ServiceID  int64 `json:"service_id"`
	UserID     int64 `json:"user_id"`
	ProviderID int64 `json:"provider_id"`

	Status string `json:"status"`

	RequestedDate  time.Time  `json:"requested_date"`
	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   *time.Time `json:"requested_end,omitempty"`

	ConfirmedStart *time.Time `json:"confirmed_start,omitempty"`
	ConfirmedEnd   *time.Time `json:"confirmed_end,omitempty"`

	Price float64 `json:"price"`
	Notes string  `json:"notes,omitempty"`

	// In-flight renegotiation snapshot; cleared whenever the proposal is
	// resolved into a confirmed window.
	ProposedBy    string     `json:"proposed_by,omitempty"`
	ProposedStart *time.Time `json:"proposed_start,omitempty"`
	ProposedEnd   *time.Time `json:"proposed_end,omitempty"`
	ProposedPrice *float64   `json:"proposed_price,omitempty"`
	ProposedNotes string     `json:"proposed_notes,omitempty"`

	CancelledBy  string `json:"cancelled_by,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	Payment PaymentMeta `json:"payment"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PaymentAt   *time.Time `json:"payment_at,omitempty"`
	JobDoneAt   *time.Time `json:"job_done_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Version int64 `json:"version"`
}

// RequestedWindow returns the requested interval, substituting the assumed
// duration when the user supplied no end time.
func (b *Booking) RequestedWindow(assumed time.Duration) (time.Time, time.Time) {
	if b.RequestedEnd != nil {
		return b.RequestedStart, *b.RequestedEnd
	}
	return b.RequestedStart, b.RequestedStart.Add(assumed)
}
