package ghl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Default slot list used when no calendar is configured. These mirror the
// call windows offered by the booking team.
var defaultSlots = []string{"10:00 AM", "2:00 PM", "4:00 PM"}

// AvailableSlots returns the open time slots for the given business day.
// Without a configured calendar the static default windows are offered.
func (c *Client) AvailableSlots(ctx context.Context, day string) ([]string, error) {
	if c.calendarID == "" {
		slog.Debug("GHL AvailableSlots: no calendar configured, using default slots", "day", day)
		return append([]string(nil), defaultSlots...), nil
	}

	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("day", day)

	var result struct {
		Slots []string `json:"slots"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/calendars/"+c.calendarID+"/free-slots?"+q.Encode(), nil, &result)
	if err != nil {
		slog.Error("GHL AvailableSlots failed", "error", err, "day", day)
		return nil, fmt.Errorf("failed to fetch slots for %s: %w", day, err)
	}
	if len(result.Slots) == 0 {
		slog.Warn("GHL AvailableSlots returned no slots, using default windows", "day", day)
		return append([]string(nil), defaultSlots...), nil
	}
	slog.Debug("GHL AvailableSlots succeeded", "day", day, "slot_count", len(result.Slots))
	return result.Slots, nil
}

// BookSlot books an appointment for a contact and returns the appointment ID.
func (c *Client) BookSlot(ctx context.Context, contactID, day, slot string) (string, error) {
	slog.Debug("GHL BookSlot invoked", "contactID", contactID, "day", day, "slot", slot)

	payload := map[string]string{
		"calendarId": c.calendarID,
		"locationId": c.locationID,
		"contactId":  contactID,
		"day":        day,
		"slot":       slot,
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/calendars/events/appointments", payload, &result); err != nil {
		slog.Error("GHL BookSlot failed", "error", err, "contactID", contactID, "day", day, "slot", slot)
		return "", fmt.Errorf("failed to book %s %s for %s: %w", day, slot, contactID, err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("booking for %s returned no appointment ID", contactID)
	}
	slog.Info("GHL BookSlot succeeded", "contactID", contactID, "appointmentID", result.ID)
	return result.ID, nil
}
