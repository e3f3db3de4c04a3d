// Package store provides storage backends for bookingflow conversation state.
//
// This file implements the SQLite-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/palinopr/bookingflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation state in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements ConversationStore.
var _ ConversationStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LoadState retrieves the state for a contact, or a fresh default state if
// the contact is unknown.
func (s *SQLiteStore) LoadState(ctx context.Context, contactID string) (models.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, step, locale, fields, version, last_message_id, last_reply, status, appointment_id, created_at, updated_at
		FROM conversations WHERE contact_id = ?`, contactID)

	state, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore LoadState: contact unknown, returning default state", "contactID", contactID)
		return models.NewConversationState(contactID), nil
	}
	if err != nil {
		slog.Error("SQLiteStore LoadState failed", "error", err, "contactID", contactID)
		return models.ConversationState{}, fmt.Errorf("failed to load conversation for %s: %w", contactID, err)
	}
	slog.Debug("SQLiteStore LoadState succeeded", "contactID", contactID, "step", state.Step, "version", state.Version)
	return state, nil
}

// SaveState persists the state under the optimistic version check.
func (s *SQLiteStore) SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		slog.Error("SQLiteStore SaveState marshal failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to marshal fields for %s: %w", state.ContactID, err)
	}
	now := time.Now()

	if expectedVersion == 0 {
		// First save: the row must not exist yet. A conflicting concurrent
		// insert surfaces as zero affected rows.
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversations
				(contact_id, step, locale, fields, version, last_message_id, last_reply, status, appointment_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
			state.ContactID, string(state.Step), string(state.Locale), string(fieldsJSON),
			state.LastMessageID, state.LastReply, string(state.Status), state.AppointmentID,
			state.CreatedAt, now)
		if err != nil {
			slog.Error("SQLiteStore SaveState insert failed", "error", err, "contactID", state.ContactID)
			return fmt.Errorf("failed to insert conversation for %s: %w", state.ContactID, err)
		}
		return s.checkAffected(res, state.ContactID, expectedVersion)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET step = ?, locale = ?, fields = ?, version = ?, last_message_id = ?, last_reply = ?, status = ?, appointment_id = ?, updated_at = ?
		WHERE contact_id = ? AND version = ?`,
		string(state.Step), string(state.Locale), string(fieldsJSON), expectedVersion+1,
		state.LastMessageID, state.LastReply, string(state.Status), state.AppointmentID, now,
		state.ContactID, expectedVersion)
	if err != nil {
		slog.Error("SQLiteStore SaveState update failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to update conversation for %s: %w", state.ContactID, err)
	}
	return s.checkAffected(res, state.ContactID, expectedVersion)
}

// checkAffected translates a zero-row write into a version conflict.
func (s *SQLiteStore) checkAffected(res sql.Result, contactID string, expectedVersion int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", contactID, err)
	}
	if affected == 0 {
		slog.Warn("SQLiteStore SaveState version conflict", "contactID", contactID, "expected_version", expectedVersion)
		return ErrVersionConflict
	}
	slog.Debug("SQLiteStore SaveState succeeded", "contactID", contactID, "new_version", expectedVersion+1)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
