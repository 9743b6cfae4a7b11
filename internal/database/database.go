package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write against the schema. It runs on the pool
// or inside a transaction opened by DB.InTx.
type Queries struct {
	q   querier
	now func() time.Time
}

// DB represents the database connection.
type DB struct {
	*sql.DB
	*Queries
	logger *zerolog.Logger
}

// NewDB opens the SQLite database at path and creates tables if they don't exist.
// Write transactions start with BEGIN IMMEDIATE so concurrent writers queue on
// the database lock instead of failing at commit.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:      db,
		Queries: &Queries{q: db, now: time.Now},
		logger:  logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// SetClock overrides the timestamp source used for created_at/updated_at.
func (db *DB) SetClock(now func() time.Time) {
	db.Queries.now = now
}

// InTx runs fn inside a write transaction. The transaction is rolled back when fn fails.
func (db *DB) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{q: tx, now: db.Queries.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			quote_url TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			availability_mode TEXT NOT NULL DEFAULT 'permanent',
			available_from TEXT,
			available_until TEXT,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			interval_minutes INTEGER NOT NULL DEFAULT 20,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_ranges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
			label TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			order_index INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,
		`CREATE TABLE IF NOT EXISTS service_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			range_mode TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			max_bookings INTEGER,
			note TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (service_id, date, type, range_mode, start_time, end_time),
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,
		`CREATE TABLE IF NOT EXISTS packages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '0',
			deposit TEXT NOT NULL DEFAULT '0',
			duration_minutes INTEGER,
			available_from TEXT,
			available_until TEXT,
			max_bookings INTEGER,
			is_default BOOLEAN NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (service_id, name),
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phone TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			conversation_state TEXT NOT NULL DEFAULT 'idle',
			active_node TEXT NOT NULL DEFAULT '',
			needs_attention BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id INTEGER NOT NULL,
			package_id INTEGER,
			user_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			source TEXT NOT NULL DEFAULT 'whatsapp',
			customer_name TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			customer_notes TEXT NOT NULL DEFAULT '',
			deposit_amount TEXT NOT NULL DEFAULT '0',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (service_id) REFERENCES services(id),
			FOREIGN KEY (package_id) REFERENCES packages(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS booking_intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT UNIQUE NOT NULL,
			user_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			package_id INTEGER,
			status TEXT NOT NULL DEFAULT 'open',
			source_option TEXT NOT NULL DEFAULT '',
			booking_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (service_id) REFERENCES services(id),
			FOREIGN KEY (package_id) REFERENCES packages(id),
			FOREIGN KEY (booking_id) REFERENCES bookings(id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_services_active ON services(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_service_day ON weekly_ranges(service_id, weekday)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_service_date ON service_exceptions(service_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_service ON packages(service_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_service_date ON bookings(service_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_user_status ON booking_intents(user_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_one_open ON booking_intents(user_id) WHERE status = 'open'`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (q *Queries) timestamp() time.Time {
	if q.now == nil {
		return time.Now()
	}
	return q.now()
}
