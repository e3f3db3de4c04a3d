package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/palinopr/bookingflow/internal/flow"
	"github.com/palinopr/bookingflow/internal/models"
)

// WebhookRequest matches the GHL webhook payload for inbound WhatsApp
// messages.
type WebhookRequest struct {
	Message        string `json:"message"`
	Phone          string `json:"phone"`
	ConversationID string `json:"conversationId"`
	ContactID      string `json:"contactId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Type           string `json:"type,omitempty"`
	LocationID     string `json:"locationId,omitempty"`
	MessageType    string `json:"messageType,omitempty"`
	Direction      string `json:"direction,omitempty"`
	DateAdded      string `json:"dateAdded,omitempty"`
}

// newMessageID generates a fallback dedup identifier for payloads that
// carry no message ID. Generated IDs never collide, so such deliveries are
// processed as new messages rather than deduplicated.
func newMessageID() string {
	return "gen-" + uuid.NewString()
}

// webhookHandler processes an inbound GHL webhook message through the
// conversation coordinator and reports the dispatched reply.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}
	if req.ContactID == "" && req.Phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: contactId or phone"))
		return
	}

	// Outbound echoes come back through the same webhook; processing them
	// would answer our own messages.
	if strings.EqualFold(req.Direction, "outbound") {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Outbound message ignored", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.processingTimeout)
	defer cancel()

	contactID, err := s.resolveContact(ctx, req)
	if err != nil {
		slog.Error("Server.webhookHandler: contact resolution failed", "error", err, "phone", req.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve contact"))
		return
	}

	msg := models.InboundMessage{
		ContactID: contactID,
		Text:      req.Message,
		MessageID: req.MessageID,
		Timestamp: time.Now(),
	}
	if msg.MessageID == "" {
		msg.MessageID = newMessageID()
		slog.Debug("Server.webhookHandler: payload carried no message ID, generated one",
			"contactID", contactID, "messageID", msg.MessageID)
	}

	reply, err := s.coordinator.HandleInbound(ctx, msg)
	switch {
	case errors.Is(err, flow.ErrCorruptState):
		slog.Error("Server.webhookHandler: corrupt conversation state", "error", err, "contactID", contactID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Conversation state is corrupted"))
		return
	case err != nil:
		slog.Error("Server.webhookHandler: processing failed", "error", err, "contactID", contactID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.webhookHandler: message processed", "contactID", contactID, "messageID", msg.MessageID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message processed", map[string]string{
		"contact_id": contactID,
		"reply":      reply,
	}))
}

// resolveContact maps a webhook payload to the conversation contact ID.
// Payloads without a contact ID are resolved through the GHL contacts API
// by phone; without a GHL client the phone number itself keys the
// conversation.
func (s *Server) resolveContact(ctx context.Context, req WebhookRequest) (string, error) {
	if req.ContactID != "" {
		return req.ContactID, nil
	}
	if s.ghlClient != nil {
		contact, err := s.ghlClient.GetOrCreateContact(ctx, req.Phone)
		if err != nil {
			return "", err
		}
		return contact.ID, nil
	}
	return req.Phone, nil
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// stateHandler serves the current conversation state for a contact,
// read-only, for debugging and support tooling.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	contactID := strings.TrimPrefix(r.URL.Path, "/state/")
	if contactID == "" || strings.Contains(contactID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing or invalid contact ID"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.processingTimeout)
	defer cancel()

	state, err := s.st.LoadState(ctx, contactID)
	if err != nil {
		slog.Error("Server.stateHandler: state load failed", "error", err, "contactID", contactID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}
