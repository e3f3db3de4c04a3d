package ghl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Contact is the subset of a GoHighLevel contact record used by bookingflow.
type Contact struct {
	ID           string        `json:"id"`
	Phone        string        `json:"phone"`
	CustomFields []CustomField `json:"customFields"`
}

// CustomField is one entry of a contact's custom-field array.
type CustomField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type contactEnvelope struct {
	Contact *Contact `json:"contact"`
}

// GetContact fetches a contact record by ID.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	var env contactEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/contacts/"+contactID, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch contact %s: %w", contactID, err)
	}
	if env.Contact == nil {
		return nil, fmt.Errorf("contact %s not found in response", contactID)
	}
	return env.Contact, nil
}

// GetOrCreateContact looks up a contact by phone number, creating one with
// fresh booking fields if none exists yet.
func (c *Client) GetOrCreateContact(ctx context.Context, phone string) (*Contact, error) {
	slog.Debug("GHL GetOrCreateContact invoked", "phone_set", phone != "")

	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("number", phone)

	var env contactEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/contacts/search/duplicate?"+q.Encode(), nil, &env)
	if err == nil && env.Contact != nil {
		slog.Debug("GHL GetOrCreateContact found existing contact", "contactID", env.Contact.ID)
		return env.Contact, nil
	}
	if err != nil {
		slog.Debug("GHL contact search failed, attempting create", "error", err)
	}

	payload := map[string]interface{}{
		"locationId": c.locationID,
		"phone":      phone,
		"customFields": []CustomField{
			{ID: FieldIDs[FieldBookingStep], Value: "greeting"},
			{ID: FieldIDs[FieldConversationStarted], Value: time.Now().UTC().Format(time.RFC3339)},
		},
	}
	var created contactEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/contacts/", payload, &created); err != nil {
		slog.Error("GHL GetOrCreateContact create failed", "error", err)
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	if created.Contact == nil {
		return nil, fmt.Errorf("contact creation returned no contact")
	}
	slog.Info("GHL GetOrCreateContact created contact", "contactID", created.Contact.ID)
	return created.Contact, nil
}

// UpdateCustomFields writes the given custom-field values on a contact.
func (c *Client) UpdateCustomFields(ctx context.Context, contactID string, fields []CustomField) error {
	payload := map[string]interface{}{"customFields": fields}
	if err := c.doJSON(ctx, http.MethodPut, "/contacts/"+contactID, payload, nil); err != nil {
		slog.Error("GHL UpdateCustomFields failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to update contact %s: %w", contactID, err)
	}
	slog.Debug("GHL UpdateCustomFields succeeded", "contactID", contactID, "field_count", len(fields))
	return nil
}
