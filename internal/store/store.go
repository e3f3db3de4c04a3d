// Package store provides storage backends for bookingflow conversation state.
//
// It includes an in-memory store for tests and development, plus persistent
// SQLite and PostgreSQL backends. All backends expose the same
// optimistic-concurrency contract: a save succeeds only if the stored version
// still equals the expected version, atomically bumping it by one.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/palinopr/bookingflow/internal/models"
)

// Error variables shared by all store backends.
var (
	// ErrVersionConflict is returned when a save races a concurrent update
	// for the same contact. The caller is expected to reload and retry.
	ErrVersionConflict = errors.New("conversation state version conflict")
)

// ConversationStore defines load/save of per-contact conversation state with
// an optimistic-concurrency contract.
type ConversationStore interface {
	// LoadState retrieves the state for a contact. Unknown contacts get a
	// fresh default state (step greeting, version 0); loading never fails on
	// "not found".
	LoadState(ctx context.Context, contactID string) (models.ConversationState, error)

	// SaveState persists the state only if the stored version still equals
	// expectedVersion, bumping it to expectedVersion+1. A stale
	// expectedVersion returns ErrVersionConflict with no partial write.
	SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error

	// Close releases any resources held by the store.
	Close() error
}

// InMemoryStore is a simple in-memory conversation store for tests and
// single-process development runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.ConversationState
}

// Compile-time check that InMemoryStore implements ConversationStore.
var _ ConversationStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]models.ConversationState)}
}

// LoadState retrieves the state for a contact, or a fresh default state.
func (s *InMemoryStore) LoadState(ctx context.Context, contactID string) (models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[contactID]; ok {
		return state.Clone(), nil
	}
	return models.NewConversationState(contactID), nil
}

// SaveState persists the state under the optimistic version check.
func (s *InMemoryStore) SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.states[state.ContactID]
	if exists && current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if !exists && expectedVersion != 0 {
		return ErrVersionConflict
	}

	next := state.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	s.states[state.ContactID] = next
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
