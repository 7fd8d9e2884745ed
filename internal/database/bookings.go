package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotter/internal/models"
)

const bookingColumns = `id, service_id, user_id, provider_id, status,
       requested_date, requested_start, requested_end, confirmed_start, confirmed_end,
       price, notes, proposed_by, proposed_start, proposed_end, proposed_price, proposed_notes,
       cancelled_by, cancel_reason,
       payment_transaction_id, payment_validation_id, payment_method, payment_bank_ref, payment_status,
       created_at, updated_at, accepted_at, payment_at, job_done_at, completed_at, cancelled_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var requestedEnd, confirmedStart, confirmedEnd sql.NullTime
	var proposedStart, proposedEnd sql.NullTime
	var proposedPrice sql.NullFloat64
	var acceptedAt, paymentAt, jobDoneAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.ServiceID, &b.UserID, &b.ProviderID, &b.Status,
		&b.RequestedDate, &b.RequestedStart, &requestedEnd, &confirmedStart, &confirmedEnd,
		&b.Price, &b.Notes, &b.ProposedBy, &proposedStart, &proposedEnd, &proposedPrice, &b.ProposedNotes,
		&b.CancelledBy, &b.CancelReason,
		&b.Payment.TransactionID, &b.Payment.ValidationID, &b.Payment.Method, &b.Payment.BankRef, &b.Payment.Status,
		&b.CreatedAt, &b.UpdatedAt, &acceptedAt, &paymentAt, &jobDoneAt, &completedAt, &cancelledAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.RequestedEnd = timePtr(requestedEnd)
	b.ConfirmedStart = timePtr(confirmedStart)
	b.ConfirmedEnd = timePtr(confirmedEnd)
	b.ProposedStart = timePtr(proposedStart)
	b.ProposedEnd = timePtr(proposedEnd)
	b.ProposedPrice = floatPtr(proposedPrice)
	b.AcceptedAt = timePtr(acceptedAt)
	b.PaymentAt = timePtr(paymentAt)
	b.JobDoneAt = timePtr(jobDoneAt)
	b.CompletedAt = timePtr(completedAt)
	b.CancelledAt = timePtr(cancelledAt)
	return &b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Status == "" {
		booking.Status = models.StatusPendingProviderReview
	}
	now := time.Now().UTC()

	query := `INSERT INTO bookings (
                service_id, user_id, provider_id, status,
                requested_date, requested_start, requested_end,
                price, notes, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.execContext(ctx, query,
		booking.ServiceID,
		booking.UserID,
		booking.ProviderID,
		booking.Status,
		booking.RequestedDate.UTC(),
		booking.RequestedStart.UTC(),
		nullTime(booking.RequestedEnd),
		booking.Price,
		booking.Notes,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetPendingByProvider returns the provider's bookings still awaiting first
// review, oldest first. The rescheduling coordinator scans these when a slot
// is claimed.
func (db *DB) GetPendingByProvider(ctx context.Context, providerID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE provider_id = ? AND status = ? ORDER BY created_at ASC`
	bookings, err := db.queryBookings(ctx, query, providerID, models.StatusPendingProviderReview)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending bookings: %w", err)
	}
	return bookings, nil
}

// GetStalePendingBookings returns bookings stuck in pending_provider_review
// that were created before the cutoff.
func (db *DB) GetStalePendingBookings(ctx context.Context, before time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND created_at < ? ORDER BY created_at ASC`
	bookings, err := db.queryBookings(ctx, query, models.StatusPendingProviderReview, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get stale pending bookings: %w", err)
	}
	return bookings, nil
}

// CountAutoCancelledForService counts auto-cancellations for a service whose
// cancellation instant falls inside the trailing strike window. Computed on
// demand so there is no counter field to drift.
func (db *DB) CountAutoCancelledForService(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
              WHERE service_id = ? AND status = ? AND cancelled_at >= ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, serviceID, models.StatusAutoCancelled, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count auto-cancelled bookings: %w", err)
	}
	return count, nil
}

// checkSourceStatus distinguishes a missing row from an illegal source state
// after a guarded UPDATE matched nothing.
func checkSourceStatus(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, bookingID int64) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, bookingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check booking status: %w", err)
	}
	return fmt.Errorf("%w: booking %d is %s", ErrIllegalTransition, bookingID, status)
}

// TransitionStatus moves the booking to a new status iff its current status
// is one of the allowed sources. No side effects beyond the status change;
// transitions that must touch slots go through the dedicated methods below.
func (db *DB) TransitionStatus(ctx context.Context, bookingID int64, to string, from []string) error {
	query := `UPDATE bookings SET status = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := append([]any{to, time.Now().UTC(), bookingID}, statusArgs(from)...)
	result, err := db.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition booking status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, db.db, bookingID)
	}
	return nil
}

// AcceptBookingWithSlot performs provider acceptance as one transaction:
// re-checks the slot overlap, fixes the confirmed window/price/notes, clears
// any in-flight proposal fields and creates the slot lock. Either everything
// commits or the booking stays untouched. The in-transaction overlap
// re-check is what closes the check-then-act race between two concurrent
// acceptances.
func (db *DB) AcceptBookingWithSlot(ctx context.Context, bookingID int64, from []string, price float64, notes string, start, end time.Time) (*models.Booking, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := acceptBookingInTx(ctx, tx, bookingID, from, price, notes, start, end); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	return db.GetBooking(ctx, bookingID)
}

// acceptBookingInTx is the shared accept body: it also runs inside the
// proposal-acceptance transaction so the proposal flip and the slot claim
// commit or roll back together.
func acceptBookingInTx(ctx context.Context, tx *sql.Tx, bookingID int64, from []string, price float64, notes string, start, end time.Time) error {
	var providerID int64
	var status string
	err := tx.QueryRowContext(ctx, `SELECT provider_id, status FROM bookings WHERE id = ?`, bookingID).
		Scan(&providerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load booking in tx: %w", err)
	}

	legal := false
	for _, s := range from {
		if s == status {
			legal = true
			break
		}
	}
	if !legal {
		return fmt.Errorf("%w: booking %d is %s", ErrIllegalTransition, bookingID, status)
	}

	var conflicts int
	overlapQuery := `SELECT COUNT(*) FROM time_slots s
              JOIN bookings b ON b.id = s.booking_id
              WHERE s.provider_id = ? AND s.is_active = 1
                AND b.status NOT IN (` + placeholders(len(models.TerminalStatuses)) + `)
                AND s.booking_id != ?
                AND s.start_at < ? AND s.end_at > ?`
	overlapArgs := append([]any{providerID}, statusArgs(models.TerminalStatuses)...)
	overlapArgs = append(overlapArgs, bookingID, end.UTC(), start.UTC())
	if err := tx.QueryRowContext(ctx, overlapQuery, overlapArgs...).Scan(&conflicts); err != nil {
		return fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	if conflicts > 0 {
		return ErrSlotConflict
	}

	now := time.Now().UTC()
	updateQuery := `UPDATE bookings SET
                status = ?, price = ?, notes = ?,
                confirmed_start = ?, confirmed_end = ?, accepted_at = ?,
                proposed_by = '', proposed_start = NULL, proposed_end = NULL,
                proposed_price = NULL, proposed_notes = '',
                updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	updateArgs := append(
		[]any{models.StatusAcceptedByProvider, price, notes, start.UTC(), end.UTC(), now, now, bookingID},
		statusArgs(from)...,
	)
	result, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to accept booking in tx: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: booking %d changed concurrently", ErrIllegalTransition, bookingID)
	}

	// A re-accept after rescheduling replaces the booking's previous slot.
	if _, err := tx.ExecContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE booking_id = ?`, bookingID); err != nil {
		return fmt.Errorf("failed to release previous slot in tx: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO time_slots (provider_id, booking_id, start_at, end_at, is_active, created_at)
         VALUES (?, ?, ?, ?, 1, ?)`,
		providerID, bookingID, start.UTC(), end.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create time slot in tx: %w", err)
	}

	return nil
}

// CancelBooking records the cancellation and releases any slot held by the
// booking, in one transaction.
func (db *DB) CancelBooking(ctx context.Context, bookingID int64, from []string, actor, reason string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	query := `UPDATE bookings SET status = ?, cancelled_by = ?, cancel_reason = ?,
                cancelled_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := append([]any{models.StatusCancelled, actor, reason, now, now, bookingID}, statusArgs(from)...)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, tx, bookingID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE booking_id = ?`, bookingID); err != nil {
		return fmt.Errorf("failed to release time slot: %w", err)
	}

	return tx.Commit()
}

func (db *DB) MarkPaymentReceived(ctx context.Context, bookingID int64, from []string, meta models.PaymentMeta) error {
	now := time.Now().UTC()
	query := `UPDATE bookings SET status = ?,
                payment_transaction_id = ?, payment_validation_id = ?, payment_method = ?,
                payment_bank_ref = ?, payment_status = ?,
                payment_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := append(
		[]any{models.StatusPaymentReceived, meta.TransactionID, meta.ValidationID, meta.Method, meta.BankRef, meta.Status, now, now, bookingID},
		statusArgs(from)...,
	)
	result, err := db.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark payment received: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, db.db, bookingID)
	}
	return nil
}

func (db *DB) MarkJobDone(ctx context.Context, bookingID int64, from []string) error {
	now := time.Now().UTC()
	query := `UPDATE bookings SET status = ?, job_done_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := append([]any{models.StatusJobDone, now, now, bookingID}, statusArgs(from)...)
	result, err := db.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, db.db, bookingID)
	}
	return nil
}

// CompleteBooking moves the booking to completed and releases its slot.
func (db *DB) CompleteBooking(ctx context.Context, bookingID int64, from []string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	query := `UPDATE bookings SET status = ?, completed_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := append([]any{models.StatusCompleted, now, now, bookingID}, statusArgs(from)...)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, tx, bookingID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE booking_id = ?`, bookingID); err != nil {
		return fmt.Errorf("failed to release time slot: %w", err)
	}

	return tx.Commit()
}

// ForceBookingStatus sets the status unconditionally (system paths such as
// auto-cancellation). Terminal targets release the slot in the same
// transaction; auto_cancelled additionally stamps cancelled_at so strike
// counting sees the cancellation instant.
func (db *DB) ForceBookingStatus(ctx context.Context, bookingID int64, status string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var result sql.Result
	if status == models.StatusAutoCancelled {
		result, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, cancelled_by = ?, cancelled_at = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
			status, models.ActorSystem, now, now, bookingID)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
			status, now, bookingID)
	}
	if err != nil {
		return fmt.Errorf("failed to force booking status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if models.IsTerminalStatus(status) {
		if _, err := tx.ExecContext(ctx, `UPDATE time_slots SET is_active = 0 WHERE booking_id = ?`, bookingID); err != nil {
			return fmt.Errorf("failed to release time slot: %w", err)
		}
	}

	return tx.Commit()
}

// SetBookingProposal records the single in-flight renegotiation snapshot on
// the booking. Rejected for terminal bookings.
func (db *DB) SetBookingProposal(ctx context.Context, bookingID int64, proposedBy string, start time.Time, end *time.Time, price *float64, notes string) error {
	query := `UPDATE bookings SET proposed_by = ?, proposed_start = ?, proposed_end = ?,
                proposed_price = ?, proposed_notes = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status NOT IN (` + placeholders(len(models.TerminalStatuses)) + `)`
	args := append(
		[]any{proposedBy, start.UTC(), nullTime(end), nullFloat(price), notes, time.Now().UTC(), bookingID},
		statusArgs(models.TerminalStatuses)...,
	)
	result, err := db.execContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set booking proposal: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkSourceStatus(ctx, db.db, bookingID)
	}
	return nil
}
