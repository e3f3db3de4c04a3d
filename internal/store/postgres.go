// Package store provides storage backends for bookingflow conversation state.
//
// This file implements the PostgreSQL-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/palinopr/bookingflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements ConversationStore.
var _ ConversationStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// LoadState retrieves the state for a contact, or a fresh default state if
// the contact is unknown.
func (s *PostgresStore) LoadState(ctx context.Context, contactID string) (models.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, step, locale, fields, version, last_message_id, last_reply, status, appointment_id, created_at, updated_at
		FROM conversations WHERE contact_id = $1`, contactID)

	state, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore LoadState: contact unknown, returning default state", "contactID", contactID)
		return models.NewConversationState(contactID), nil
	}
	if err != nil {
		slog.Error("PostgresStore LoadState failed", "error", err, "contactID", contactID)
		return models.ConversationState{}, fmt.Errorf("failed to load conversation for %s: %w", contactID, err)
	}
	slog.Debug("PostgresStore LoadState succeeded", "contactID", contactID, "step", state.Step, "version", state.Version)
	return state, nil
}

// SaveState persists the state under the optimistic version check.
func (s *PostgresStore) SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error {
	fieldsJSON, err := json.Marshal(state.Fields)
	if err != nil {
		slog.Error("PostgresStore SaveState marshal failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to marshal fields for %s: %w", state.ContactID, err)
	}
	now := time.Now()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO conversations
				(contact_id, step, locale, fields, version, last_message_id, last_reply, status, appointment_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (contact_id) DO NOTHING`,
			state.ContactID, string(state.Step), string(state.Locale), string(fieldsJSON),
			state.LastMessageID, state.LastReply, string(state.Status), state.AppointmentID,
			state.CreatedAt, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversations
			SET step = $1, locale = $2, fields = $3, version = $4, last_message_id = $5, last_reply = $6, status = $7, appointment_id = $8, updated_at = $9
			WHERE contact_id = $10 AND version = $11`,
			string(state.Step), string(state.Locale), string(fieldsJSON), expectedVersion+1,
			state.LastMessageID, state.LastReply, string(state.Status), state.AppointmentID, now,
			state.ContactID, expectedVersion)
	}
	if err != nil {
		slog.Error("PostgresStore SaveState write failed", "error", err, "contactID", state.ContactID)
		return fmt.Errorf("failed to save conversation for %s: %w", state.ContactID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", state.ContactID, err)
	}
	if affected == 0 {
		slog.Warn("PostgresStore SaveState version conflict", "contactID", state.ContactID, "expected_version", expectedVersion)
		return ErrVersionConflict
	}
	slog.Debug("PostgresStore SaveState succeeded", "contactID", state.ContactID, "new_version", expectedVersion+1)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
