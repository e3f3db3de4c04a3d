package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/palinopr/bookingflow/internal/models"
)

// GHLSender sends a WhatsApp message to a GHL contact. Satisfied by the ghl
// package client and by test mocks.
type GHLSender interface {
	SendMessage(ctx context.Context, contactID, body string) error
}

// GHLService implements Service over the GHL conversations API. Outbound
// messages go through the GHL client. Inbound messages arrive via the
// webhook endpoint, which processes them synchronously so the HTTP response
// can carry the reply; on that path the responses channel stays idle.
type GHLService struct {
	client    GHLSender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*GHLService)(nil)

// NewGHLService creates a GHLService wrapping the given sender.
func NewGHLService(client GHLSender) *GHLService {
	return &GHLService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty GHL contact ID.
// Contact IDs are opaque API identifiers, not phone numbers.
func (s *GHLService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

// Start is a no-op; inbound messages arrive via the webhook endpoint.
func (s *GHLService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *GHLService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		// Let in-flight emits drain before closing.
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a message through the GHL conversations API and emits a
// sent receipt.
func (s *GHLService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	contactID, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("GHLService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, contactID, body); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: contactID, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// EmitResponse feeds an inbound message into the responses channel for
// consumers driving this service through the channel pipeline instead of
// the synchronous webhook path. Messages are dropped with a warning when
// the channel stays full past the emit timeout.
func (s *GHLService) EmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("GHLService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("GHLService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("GHLService responses channel blocked, dropping message", "from", response.From)
	}
}

// Receipts returns the channel of sent message receipts.
func (s *GHLService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of inbound messages.
func (s *GHLService) Responses() <-chan models.Response {
	return s.responses
}

func (s *GHLService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}
