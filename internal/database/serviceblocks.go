package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotter/internal/models"
)

const blockColumns = `id, service_id, reason, blocked_at, unblock_at, is_active, created_at`

func scanBlock(row rowScanner) (*models.ServiceBlock, error) {
	var b models.ServiceBlock
	if err := row.Scan(&b.ID, &b.ServiceID, &b.Reason, &b.BlockedAt, &b.UnblockAt, &b.IsActive, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.BlockedAt = b.BlockedAt.UTC()
	b.UnblockAt = b.UnblockAt.UTC()
	return &b, nil
}

func (db *DB) CreateServiceBlock(ctx context.Context, block *models.ServiceBlock) error {
	now := time.Now().UTC()
	if block.BlockedAt.IsZero() {
		block.BlockedAt = now
	}
	block.IsActive = true
	result, err := db.execContext(ctx,
		`INSERT INTO service_blocks (service_id, reason, blocked_at, unblock_at, is_active, created_at)
         VALUES (?, ?, ?, ?, 1, ?)`,
		block.ServiceID, block.Reason, block.BlockedAt.UTC(), block.UnblockAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create service block: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	block.ID = id
	block.CreatedAt = now
	return nil
}

// IsServiceBlocked reports whether an active block with a future unblock
// instant exists. Expired-but-still-active blocks do not count; the sweeper
// deactivates them eventually.
func (db *DB) IsServiceBlocked(ctx context.Context, serviceID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM service_blocks
              WHERE service_id = ? AND is_active = 1 AND unblock_at > ?`
	var count int
	if err := db.db.QueryRowContext(ctx, query, serviceID, time.Now().UTC()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check service block: %w", err)
	}
	return count > 0, nil
}

// GetActiveBlock returns the service's current active, unexpired block.
func (db *DB) GetActiveBlock(ctx context.Context, serviceID int64) (*models.ServiceBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM service_blocks
              WHERE service_id = ? AND is_active = 1 AND unblock_at > ?
              ORDER BY unblock_at DESC LIMIT 1`
	block, err := scanBlock(db.db.QueryRowContext(ctx, query, serviceID, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active block: %w", err)
	}
	return block, nil
}

// GetExpiredActiveBlocks returns active blocks whose suspension has elapsed.
func (db *DB) GetExpiredActiveBlocks(ctx context.Context, now time.Time) ([]*models.ServiceBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM service_blocks
              WHERE is_active = 1 AND unblock_at <= ? ORDER BY unblock_at ASC`
	rows, err := db.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*models.ServiceBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// DeactivateBlock marks a block inactive; no-op if already inactive.
func (db *DB) DeactivateBlock(ctx context.Context, blockID int64) error {
	_, err := db.execContext(ctx, `UPDATE service_blocks SET is_active = 0 WHERE id = ?`, blockID)
	if err != nil {
		return fmt.Errorf("failed to deactivate block: %w", err)
	}
	return nil
}

// DeactivateBlocksForService lifts every active block on the service.
func (db *DB) DeactivateBlocksForService(ctx context.Context, serviceID int64) error {
	_, err := db.execContext(ctx, `UPDATE service_blocks SET is_active = 0 WHERE service_id = ?`, serviceID)
	if err != nil {
		return fmt.Errorf("failed to deactivate blocks for service: %w", err)
	}
	return nil
}
