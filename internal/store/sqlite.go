// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite
// ABOUTME: Creates the schema on open and runs in WAL mode

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Ledger on a single SQLite file
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the ledger at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS relays (
			id             TEXT PRIMARY KEY,
			sender_id      TEXT NOT NULL,
			sender_name    TEXT NOT NULL,
			recipient_id   TEXT NOT NULL,
			recipient_name TEXT NOT NULL,
			body           TEXT NOT NULL,
			status         TEXT NOT NULL,
			error          TEXT,
			created_at     TEXT NOT NULL,

			CHECK (status IN ('sent', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_relays_created ON relays(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_relays_sender ON relays(sender_id);

		CREATE TABLE IF NOT EXISTS deliveries (
			id           TEXT PRIMARY KEY,
			message_id   TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			user_name    TEXT NOT NULL,
			status       TEXT NOT NULL,
			error        TEXT,
			attempted_at TEXT NOT NULL,

			CHECK (status IN ('sent', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_message ON deliveries(message_id, attempted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite ledger")
	return s.db.Close()
}

// SaveRelay appends a relay record. ID and CreatedAt are generated if unset.
func (s *SQLiteStore) SaveRelay(ctx context.Context, r *Relay) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relays (id, sender_id, sender_name, recipient_id, recipient_name, body, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.SenderID,
		r.SenderName,
		r.RecipientID,
		r.RecipientName,
		r.Body,
		r.Status,
		nullString(r.Error),
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting relay: %w", err)
	}

	s.logger.Debug("saved relay", "id", r.ID, "sender", r.SenderID, "recipient", r.RecipientID, "status", r.Status)
	return nil
}

const relayColumns = `id, sender_id, sender_name, recipient_id, recipient_name, body, status, error, created_at`

// ListRelays returns the most recent relays, newest first.
func (s *SQLiteStore) ListRelays(ctx context.Context, limit int) ([]*Relay, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relayColumns+` FROM relays ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying relays: %w", err)
	}
	defer func() { _ = rows.Close() }()

	relays := []*Relay{}
	for rows.Next() {
		r, err := scanRelay(rows)
		if err != nil {
			return nil, err
		}
		relays = append(relays, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relays: %w", err)
	}
	return relays, nil
}

// GetRelay returns one relay by ID
func (s *SQLiteStore) GetRelay(ctx context.Context, id string) (*Relay, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+relayColumns+` FROM relays WHERE id = ?`, id)
	r, err := scanRelay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface{ Scan(dest ...any) error }

func scanRelay(sc scanner) (*Relay, error) {
	var r Relay
	var errText sql.NullString
	var createdAt string
	if err := sc.Scan(
		&r.ID,
		&r.SenderID,
		&r.SenderName,
		&r.RecipientID,
		&r.RecipientName,
		&r.Body,
		&r.Status,
		&errText,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning relay: %w", err)
	}
	r.Error = errText.String

	var err error
	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &r, nil
}

// SaveDelivery appends one announcement push attempt.
func (s *SQLiteStore) SaveDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, message_id, user_id, user_name, status, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.MessageID,
		d.UserID,
		d.UserName,
		d.Status,
		nullString(d.Error),
		d.AttemptedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns every attempt for one announcement, oldest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, messageID string) ([]*Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, user_name, status, error, attempted_at
		FROM deliveries
		WHERE message_id = ?
		ORDER BY attempted_at ASC, rowid ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deliveries := []*Delivery{}
	for rows.Next() {
		var d Delivery
		var errText sql.NullString
		var attemptedAt string
		if err := rows.Scan(&d.ID, &d.MessageID, &d.UserID, &d.UserName, &d.Status, &errText, &attemptedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.Error = errText.String
		if d.AttemptedAt, err = time.Parse(timeLayout, attemptedAt); err != nil {
			return nil, fmt.Errorf("parsing attempted_at: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return deliveries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
