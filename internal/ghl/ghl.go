// Package ghl wraps the GoHighLevel REST API for bookingflow.
//
// It provides contact lookup and custom-field persistence (backing the
// conversation state store), calendar slot lookup and appointment booking,
// and outbound message delivery through the conversations API.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Constants for GoHighLevel API configuration
const (
	// DefaultBaseURL is the LeadConnector services endpoint.
	DefaultBaseURL = "https://services.leadconnectorhq.com"
	// APIVersion is the GoHighLevel API version header value.
	APIVersion = "2021-07-28"
	// DefaultHTTPTimeout bounds every single API call.
	DefaultHTTPTimeout = 15 * time.Second
)

// Opts holds configuration options for the GoHighLevel client.
type Opts struct {
	APIKey     string
	LocationID string
	CalendarID string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the GoHighLevel client.
type Option func(*Opts)

// WithAPIKey sets the GoHighLevel API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithLocationID sets the GoHighLevel location (sub-account) ID.
func WithLocationID(id string) Option {
	return func(o *Opts) { o.LocationID = id }
}

// WithCalendarID sets the calendar used for slot lookup and booking.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient injects a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client wraps the GoHighLevel REST API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	locationID string
	calendarID string
	baseURL    string
}

// NewClient creates a new GoHighLevel client, falling back to the
// GHL_API_KEY, GHL_LOCATION_ID and GHL_CALENDAR_ID environment variables for
// values not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GHL_API_KEY")
	}
	if cfg.LocationID == "" {
		cfg.LocationID = os.Getenv("GHL_LOCATION_ID")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = os.Getenv("GHL_CALENDAR_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	slog.Debug("GHL client config loaded",
		"APIKey_set", cfg.APIKey != "",
		"LocationID_set", cfg.LocationID != "",
		"CalendarID_set", cfg.CalendarID != "")

	if cfg.APIKey == "" || cfg.LocationID == "" {
		return nil, fmt.Errorf("GHL API key and location ID must be provided")
	}

	return &Client{
		httpClient: cfg.HTTPClient,
		apiKey:     cfg.APIKey,
		locationID: cfg.LocationID,
		calendarID: cfg.CalendarID,
		baseURL:    cfg.BaseURL,
	}, nil
}

// doJSON performs an authenticated request with a JSON body and decodes the
// JSON response into out (when out is non-nil). Non-2xx statuses become
// errors carrying the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Version", APIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GHL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("GHL request returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("GHL %s %s returned %d: %s", method, path, resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode GHL response: %w", err)
	}
	return nil
}

// SendMessage delivers a WhatsApp message to a contact via the GHL
// conversations API.
func (c *Client) SendMessage(ctx context.Context, contactID, body string) error {
	if contactID == "" {
		return fmt.Errorf("contact ID cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("GHL SendMessage invoked", "contactID", contactID, "body_length", len(body))
	payload := map[string]string{
		"type":      "WhatsApp",
		"contactId": contactID,
		"message":   body,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/messages", payload, nil); err != nil {
		slog.Error("GHL SendMessage failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to send message to %s: %w", contactID, err)
	}
	slog.Debug("GHL SendMessage succeeded", "contactID", contactID)
	return nil
}
