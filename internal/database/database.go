package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite store for bookings, time slots, reschedule proposals
// and service blocks. All instants are written in UTC; presentation layers
// convert for display.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a single connection also keeps :memory:
	// databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            service_id INTEGER NOT NULL,
            user_id INTEGER NOT NULL,
            provider_id INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending_provider_review',
            requested_date DATETIME NOT NULL,
            requested_start DATETIME NOT NULL,
            requested_end DATETIME,
            confirmed_start DATETIME,
            confirmed_end DATETIME,
            price REAL NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            proposed_by TEXT NOT NULL DEFAULT '',
            proposed_start DATETIME,
            proposed_end DATETIME,
            proposed_price REAL,
            proposed_notes TEXT NOT NULL DEFAULT '',
            cancelled_by TEXT NOT NULL DEFAULT '',
            cancel_reason TEXT NOT NULL DEFAULT '',
            payment_transaction_id TEXT NOT NULL DEFAULT '',
            payment_validation_id TEXT NOT NULL DEFAULT '',
            payment_method TEXT NOT NULL DEFAULT '',
            payment_bank_ref TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            accepted_at DATETIME,
            payment_at DATETIME,
            job_done_at DATETIME,
            completed_at DATETIME,
            cancelled_at DATETIME,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS time_slots (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider_id INTEGER NOT NULL,
            booking_id INTEGER NOT NULL,
            start_at DATETIME NOT NULL,
            end_at DATETIME NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS reschedule_proposals (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            proposed_by TEXT NOT NULL,
            proposer_name TEXT NOT NULL DEFAULT '',
            start_at DATETIME NOT NULL,
            end_at DATETIME,
            price REAL,
            message TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            response_message TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            responded_at DATETIME
        )`,

		`CREATE TABLE IF NOT EXISTS service_blocks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            service_id INTEGER NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            blocked_at DATETIME NOT NULL,
            unblock_at DATETIME NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_provider_status ON bookings(provider_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_service_status ON bookings(service_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created_at ON bookings(created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_slots_provider_active ON time_slots(provider_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_booking ON time_slots(booking_id)`,

		`CREATE INDEX IF NOT EXISTS idx_proposals_booking_status ON reschedule_proposals(booking_id, status)`,

		`CREATE INDEX IF NOT EXISTS idx_blocks_service_active ON service_blocks(service_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_unblock_at ON service_blocks(unblock_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// nullTime converts *time.Time to a driver-friendly value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// nullFloat converts *float64 to a driver-friendly value.
func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// placeholders builds "?, ?, ?" for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}

func statusArgs(statuses []string) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

func (db *DB) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}
