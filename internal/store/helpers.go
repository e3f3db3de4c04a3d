package store

import (
	"database/sql"
	"encoding/json"

	"github.com/palinopr/bookingflow/internal/models"
)

// scanConversation scans a ConversationState from a single sql.Row. The
// column order matches the SELECT in LoadState for both backends.
func scanConversation(row *sql.Row) (models.ConversationState, error) {
	var state models.ConversationState
	var step, locale, status, fieldsJSON string
	err := row.Scan(
		&state.ContactID, &step, &locale, &fieldsJSON, &state.Version,
		&state.LastMessageID, &state.LastReply, &status, &state.AppointmentID,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return state, err
	}
	state.Step = models.Step(step)
	state.Locale = models.Locale(locale)
	state.Status = models.ConversationStatus(status)

	state.Fields = make(map[models.FieldKey]string)
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &state.Fields); err != nil {
			// Continue with empty fields rather than failing the whole load.
			state.Fields = make(map[models.FieldKey]string)
		}
	}
	return state, nil
}
