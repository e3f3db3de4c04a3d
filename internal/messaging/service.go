// Package messaging provides the pluggable message channel abstraction: GHL
// conversations, Twilio-hosted WhatsApp, or a direct Whatsmeow connection.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/palinopr/bookingflow/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response
	// channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits; events past
	// the timeout are dropped rather than stalling the channel source.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending messages and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Each service implements its own rules: phone
	// channels reduce to digits, GHL passes contact IDs through.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g. event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming contact responses.
	Responses() <-chan models.Response
}
