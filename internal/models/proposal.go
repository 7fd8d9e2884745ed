package models

import "time"

// Reschedule proposal statuses.
const (
	ProposalPending  = "pending"
	ProposalAccepted = "accepted"
	ProposalRejected = "rejected"
	ProposalExpired  = "expired"
)

// RescheduleProposal is a counter-offer of a new time window (and optionally
// price) raised by either party on an existing booking. At most one pending
// proposal per booking may ever be accepted; accepting one expires all of
// its pending siblings in the same operation.
type RescheduleProposal struct {
	ID           int64      `json:"id"`
	BookingID    int64      `json:"booking_id"`
	ProposedBy   string     `json:"proposed_by"` // ActorUser or ActorProvider
	ProposerName string     `json:"proposer_name,omitempty"`
	StartAt      time.Time  `json:"start_at"`
	EndAt        *time.Time `json:"end_at,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	Message      string     `json:"message,omitempty"`

	Status          string     `json:"status"`
	ResponseMessage string     `json:"response_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
}
