// Package handoff keeps a durable record of every operator handoff until it
// has been delivered.
package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no outbox entry has the requested id.
var ErrNotFound = errors.New("handoff not found")

// Status is the delivery state of an outbox entry.
type Status string

const (
	// StatusPending entries still have to reach the operator.
	StatusPending Status = "pending"
	// StatusDelivered entries were accepted by the operator sink or acknowledged by hand.
	StatusDelivered Status = "delivered"
)

// Entry is one stored handoff.
type Entry struct {
	ID          string                      `json:"id"`
	Bundle      notifications.HandoffBundle `json:"bundle"`
	Status      Status                      `json:"status"`
	Attempts    int                         `json:"attempts"`
	LastError   string                      `json:"last_error,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	DeliveredAt *time.Time                  `json:"delivered_at,omitempty"`
}

// Outbox implements durable handoff storage on SQLite.
type Outbox struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	nowFn  func() time.Time
}

// DBFilename is the outbox database name inside the data directory.
const DBFilename = "handoffs.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewOutbox opens (creating if needed) the outbox database in dir.
func NewOutbox(dir string, logger zerolog.Logger) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}
	dbPath := filepath.Join(dir, DBFilename)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent redemptions.
	db.SetMaxOpenConns(1)

	o := &Outbox{
		db:     db,
		path:   dbPath,
		logger: logger.With().Str("component", "handoff_outbox").Logger(),
		nowFn:  time.Now,
	}
	if err := o.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate outbox database: %w", err)
	}
	// The bundles carry bot tokens.
	if err := os.Chmod(dbPath, 0o600); err != nil {
		o.logger.Warn().Err(err).Msg("failed to restrict outbox file permissions")
	}

	o.logger.Info().Str("path", dbPath).Msg("handoff outbox initialized")
	return o, nil
}

func (o *Outbox) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS handoffs (
			id TEXT PRIMARY KEY,
			requester_id INTEGER NOT NULL,
			license_key TEXT NOT NULL,
			bundle TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TEXT NOT NULL,
			delivered_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_handoffs_status ON handoffs(status);
		CREATE INDEX IF NOT EXISTS idx_handoffs_created_at ON handoffs(created_at);
	`
	_, err := o.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (o *Outbox) Path() string {
	return o.path
}

// Save stores a bundle as a pending entry. Saving the same bundle id twice is
// a no-op.
func (o *Outbox) Save(ctx context.Context, bundle notifications.HandoffBundle) (*Entry, error) {
	if bundle.ID == "" {
		return nil, errors.New("handoff bundle has no id")
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal handoff bundle: %w", err)
	}

	entry := &Entry{
		ID:        bundle.ID,
		Bundle:    bundle,
		Status:    StatusPending,
		CreatedAt: o.nowFn().UTC(),
	}

	query := `
		INSERT INTO handoffs (id, requester_id, license_key, bundle, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err = o.db.ExecContext(ctx, query,
		entry.ID,
		bundle.RequesterID,
		bundle.LicenseKey,
		string(data),
		string(entry.Status),
		entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert handoff: %w", err)
	}
	return entry, nil
}

// Get returns the entry with the given id.
func (o *Outbox) Get(ctx context.Context, id string) (*Entry, error) {
	row := o.db.QueryRowContext(ctx, selectEntry+" WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// ListPending returns undelivered entries, oldest first.
func (o *Outbox) ListPending(ctx context.Context) ([]*Entry, error) {
	return o.query(ctx, selectEntry+" WHERE status = 'pending' ORDER BY created_at ASC")
}

// ListAll returns every entry, newest first.
func (o *Outbox) ListAll(ctx context.Context) ([]*Entry, error) {
	return o.query(ctx, selectEntry+" ORDER BY created_at DESC")
}

// Ack marks an entry as delivered.
func (o *Outbox) Ack(ctx context.Context, id string) error {
	now := o.nowFn().UTC().Format(timeLayout)
	result, err := o.db.ExecContext(ctx,
		`UPDATE handoffs SET status = 'delivered', delivered_at = COALESCE(delivered_at, ?) WHERE id = ?`,
		now, id)
	if err != nil {
		return fmt.Errorf("ack handoff: %w", err)
	}
	return requireAffected(result)
}

// RecordFailure counts a failed delivery attempt.
func (o *Outbox) RecordFailure(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	result, err := o.db.ExecContext(ctx,
		`UPDATE handoffs SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		nullString(msg), id)
	if err != nil {
		return fmt.Errorf("record handoff failure: %w", err)
	}
	return requireAffected(result)
}

// CountPending returns the number of undelivered entries.
func (o *Outbox) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handoffs WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending handoffs: %w", err)
	}
	return n, nil
}

// Prune removes delivered entries created before now minus olderThan.
func (o *Outbox) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := o.nowFn().UTC().Add(-olderThan).Format(timeLayout)
	result, err := o.db.ExecContext(ctx,
		`DELETE FROM handoffs WHERE status = 'delivered' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune handoffs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

// Ping verifies the database is reachable.
func (o *Outbox) Ping(ctx context.Context) error {
	return o.db.PingContext(ctx)
}

// Close closes the underlying database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

const selectEntry = `
	SELECT id, bundle, status, attempts, last_error, created_at, delivered_at
	FROM handoffs`

type scanner interface {
	Scan(dest ...any) error
}

func (o *Outbox) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoffs: %w", err)
	}
	return entries, nil
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		id, bundleJSON, status, createdAt string
		attempts                          int
		lastError, deliveredAt            sql.NullString
	)
	if err := row.Scan(&id, &bundleJSON, &status, &attempts, &lastError, &createdAt, &deliveredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan handoff: %w", err)
	}

	entry := &Entry{
		ID:       id,
		Status:   Status(status),
		Attempts: attempts,
	}
	if err := json.Unmarshal([]byte(bundleJSON), &entry.Bundle); err != nil {
		return nil, fmt.Errorf("parse handoff %s bundle: %w", id, err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse handoff %s created_at: %w", id, err)
	}
	entry.CreatedAt = t
	if lastError.Valid {
		entry.LastError = lastError.String
	}
	if deliveredAt.Valid {
		if t, err := time.Parse(timeLayout, deliveredAt.String); err == nil {
			entry.DeliveredAt = &t
		}
	}
	return entry, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
