package ghl

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/palinopr/bookingflow/internal/models"
	"github.com/palinopr/bookingflow/internal/store"
)

// Store adapts GoHighLevel contact custom fields to the
// store.ConversationStore contract. GHL offers only field-level writes, so
// the version check is read-check-write: the in-process per-contact lock is
// the serializer within one instance, and the version field catches races
// between instances.
type Store struct {
	client *Client
}

// Compile-time check that Store implements store.ConversationStore.
var _ store.ConversationStore = (*Store)(nil)

// NewStore creates a conversation store backed by GoHighLevel custom fields.
func NewStore(client *Client) *Store {
	slog.Debug("Creating GHL-backed conversation store")
	return &Store{client: client}
}

// LoadState reads the conversation state out of a contact's custom fields.
// Unknown contacts and contacts without booking fields get a fresh default
// state, matching the first-contact behavior of the other backends.
func (s *Store) LoadState(ctx context.Context, contactID string) (models.ConversationState, error) {
	contact, err := s.client.GetContact(ctx, contactID)
	if err != nil {
		slog.Error("GHLStore LoadState fetch failed", "error", err, "contactID", contactID)
		return models.ConversationState{}, fmt.Errorf("failed to load state for %s: %w", contactID, err)
	}

	values := make(map[string]string)
	for _, field := range contact.CustomFields {
		if name, ok := logicalNameByID[field.ID]; ok {
			values[name] = field.Value
		}
	}

	state := models.NewConversationState(contactID)
	if step, ok := values[FieldBookingStep]; ok && step != "" {
		state.Step = models.Step(step)
	}
	if lang, ok := values[FieldLanguage]; ok && lang != "" {
		state.Locale = models.Locale(lang)
	}
	if raw, ok := values[FieldVersion]; ok && raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("GHLStore LoadState: unparseable version field, treating as 0", "contactID", contactID, "value", raw)
		} else {
			state.Version = version
		}
	}
	if status, ok := values[FieldStatus]; ok && status != "" {
		state.Status = models.ConversationStatus(status)
	}
	state.LastMessageID = values[FieldLastMessageID]
	state.LastReply = values[FieldLastReply]
	state.AppointmentID = values[FieldAppointmentID]

	for logical, key := range stateFieldKeys {
		if v, ok := values[logical]; ok && v != "" {
			state.Fields[key] = v
		}
	}

	slog.Debug("GHLStore LoadState succeeded", "contactID", contactID, "step", state.Step, "version", state.Version)
	return state, nil
}

// SaveState writes the state back into custom fields after re-checking the
// stored version.
func (s *Store) SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error {
	current, err := s.LoadState(ctx, state.ContactID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		slog.Warn("GHLStore SaveState version conflict", "contactID", state.ContactID,
			"expected_version", expectedVersion, "stored_version", current.Version)
		return store.ErrVersionConflict
	}

	fields := []CustomField{
		{ID: FieldIDs[FieldBookingStep], Value: string(state.Step)},
		{ID: FieldIDs[FieldLanguage], Value: string(state.Locale)},
		{ID: FieldIDs[FieldVersion], Value: strconv.FormatInt(expectedVersion+1, 10)},
		{ID: FieldIDs[FieldLastMessageID], Value: state.LastMessageID},
		{ID: FieldIDs[FieldLastReply], Value: state.LastReply},
		{ID: FieldIDs[FieldStatus], Value: string(state.Status)},
		{ID: FieldIDs[FieldAppointmentID], Value: state.AppointmentID},
		{ID: FieldIDs[FieldLastInteraction], Value: time.Now().UTC().Format(time.RFC3339)},
	}
	for logical, key := range stateFieldKeys {
		if v, ok := state.Fields[key]; ok {
			fields = append(fields, CustomField{ID: FieldIDs[logical], Value: v})
		}
	}

	if err := s.client.UpdateCustomFields(ctx, state.ContactID, fields); err != nil {
		return fmt.Errorf("failed to save state for %s: %w", state.ContactID, err)
	}
	slog.Debug("GHLStore SaveState succeeded", "contactID", state.ContactID, "new_version", expectedVersion+1)
	return nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (s *Store) Close() error {
	return nil
}

// stateFieldKeys maps logical GHL field names to conversation field keys.
var stateFieldKeys = map[string]models.FieldKey{
	FieldCustomerName:      models.FieldName,
	FieldCustomerGoal:      models.FieldGoal,
	FieldCustomerPainPoint: models.FieldPainPoint,
	FieldCustomerBudget:    models.FieldBudget,
	FieldCustomerEmail:     models.FieldEmail,
	FieldPreferredDay:      models.FieldDay,
	FieldPreferredTime:     models.FieldTime,
}
