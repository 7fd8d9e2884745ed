package database

import "errors"

var (
	// ErrNotFound: referenced booking/slot/proposal/block is absent.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition: the booking is not in a legal source state for
	// the requested operation. The row is left untouched.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrSlotConflict: the confirmed window overlaps an active slot of the
	// same provider. Raised inside the acceptance transaction.
	ErrSlotConflict = errors.New("time slot conflict")

	// ErrProposalNotPending: the proposal was already resolved; a competing
	// response committed first.
	ErrProposalNotPending = errors.New("proposal is not pending")

	// ErrServiceBlocked: the service listing is temporarily suspended.
	ErrServiceBlocked = errors.New("service is blocked")
)
