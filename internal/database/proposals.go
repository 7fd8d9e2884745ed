package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotter/internal/models"
)

const proposalColumns = `id, booking_id, proposed_by, proposer_name, start_at, end_at, price,
       message, status, response_message, created_at, responded_at`

func scanProposal(row rowScanner) (*models.RescheduleProposal, error) {
	var p models.RescheduleProposal
	var endAt, respondedAt sql.NullTime
	var price sql.NullFloat64
	err := row.Scan(
		&p.ID, &p.BookingID, &p.ProposedBy, &p.ProposerName, &p.StartAt, &endAt, &price,
		&p.Message, &p.Status, &p.ResponseMessage, &p.CreatedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StartAt = p.StartAt.UTC()
	p.EndAt = timePtr(endAt)
	p.Price = floatPtr(price)
	p.RespondedAt = timePtr(respondedAt)
	return &p, nil
}

func (db *DB) CreateProposal(ctx context.Context, proposal *models.RescheduleProposal) error {
	if proposal.Status == "" {
		proposal.Status = models.ProposalPending
	}
	now := time.Now().UTC()
	result, err := db.execContext(ctx,
		`INSERT INTO reschedule_proposals (booking_id, proposed_by, proposer_name, start_at, end_at, price, message, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		proposal.BookingID, proposal.ProposedBy, proposal.ProposerName,
		proposal.StartAt.UTC(), nullTime(proposal.EndAt), nullFloat(proposal.Price),
		proposal.Message, proposal.Status, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	proposal.ID = id
	proposal.CreatedAt = now
	return nil
}

func (db *DB) GetProposal(ctx context.Context, id int64) (*models.RescheduleProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM reschedule_proposals WHERE id = ?`
	proposal, err := scanProposal(db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return proposal, nil
}

// GetPendingProposals returns a booking's pending proposals, oldest first.
func (db *DB) GetPendingProposals(ctx context.Context, bookingID int64) ([]*models.RescheduleProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM reschedule_proposals
              WHERE booking_id = ? AND status = ? ORDER BY created_at ASC`
	rows, err := db.db.QueryContext(ctx, query, bookingID, models.ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.RescheduleProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// acceptProposalInTx flips the proposal to accepted and expires its pending
// siblings, returning the proposal's booking id. The status = 'pending'
// guard rejects the second of two concurrent accepts: it sees zero rows
// updated and gets ErrProposalNotPending. Callers own the transaction.
func acceptProposalInTx(ctx context.Context, tx *sql.Tx, proposalID int64, responseMessage string) (int64, error) {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE reschedule_proposals SET status = ?, response_message = ?, responded_at = ?
         WHERE id = ? AND status = ?`,
		models.ProposalAccepted, responseMessage, now, proposalID, models.ProposalPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to accept proposal: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM reschedule_proposals WHERE id = ?`, proposalID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("failed to check proposal status: %w", err)
		}
		return 0, fmt.Errorf("%w: proposal %d is %s", ErrProposalNotPending, proposalID, status)
	}

	// Sibling pending proposals expire in the same operation so at most one
	// proposal per booking is ever accepted.
	_, err = tx.ExecContext(ctx,
		`UPDATE reschedule_proposals SET status = ?, responded_at = ?
         WHERE booking_id = (SELECT booking_id FROM reschedule_proposals WHERE id = ?)
           AND id != ? AND status = ?`,
		models.ProposalExpired, now, proposalID, proposalID, models.ProposalPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sibling proposals: %w", err)
	}

	var bookingID int64
	if err := tx.QueryRowContext(ctx, `SELECT booking_id FROM reschedule_proposals WHERE id = ?`, proposalID).Scan(&bookingID); err != nil {
		return 0, fmt.Errorf("failed to read proposal booking: %w", err)
	}
	return bookingID, nil
}

// AcceptProposalWithSlot resolves an accepted proposal and performs the
// booking acceptance in a single transaction. If the proposed window was
// lost in the meantime the whole unit rolls back: the proposal stays
// pending, its siblings stay pending, and the booking is untouched.
func (db *DB) AcceptProposalWithSlot(ctx context.Context, proposalID int64, responseMessage string, from []string, price float64, notes string, start, end time.Time) (*models.RescheduleProposal, *models.Booking, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	bookingID, err := acceptProposalInTx(ctx, tx, proposalID, responseMessage)
	if err != nil {
		return nil, nil, err
	}

	if err := acceptBookingInTx(ctx, tx, bookingID, from, price, notes, start, end); err != nil {
		return nil, nil, err
	}

	proposal, err := scanProposal(tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM reschedule_proposals WHERE id = ?`, proposalID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload proposal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit proposal acceptance: %w", err)
	}

	booking, err := db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return proposal, booking, nil
}

// RejectProposal marks the proposal rejected. Other pending proposals are
// left untouched.
func (db *DB) RejectProposal(ctx context.Context, proposalID int64, responseMessage string) error {
	result, err := db.execContext(ctx,
		`UPDATE reschedule_proposals SET status = ?, response_message = ?, responded_at = ?
         WHERE id = ? AND status = ?`,
		models.ProposalRejected, responseMessage, time.Now().UTC(), proposalID, models.ProposalPending,
	)
	if err != nil {
		return fmt.Errorf("failed to reject proposal: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var status string
		err := db.db.QueryRowContext(ctx, `SELECT status FROM reschedule_proposals WHERE id = ?`, proposalID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check proposal status: %w", err)
		}
		return fmt.Errorf("%w: proposal %d is %s", ErrProposalNotPending, proposalID, status)
	}
	return nil
}

// ExpirePendingProposals bulk-expires a booking's pending proposals,
// optionally keeping one (exceptID 0 = none). Returns the number expired.
func (db *DB) ExpirePendingProposals(ctx context.Context, bookingID, exceptID int64) (int64, error) {
	result, err := db.execContext(ctx,
		`UPDATE reschedule_proposals SET status = ?, responded_at = ?
         WHERE booking_id = ? AND id != ? AND status = ?`,
		models.ProposalExpired, time.Now().UTC(), bookingID, exceptID, models.ProposalPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending proposals: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
