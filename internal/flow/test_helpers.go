package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/palinopr/bookingflow/internal/genai"
	"github.com/palinopr/bookingflow/internal/models"
)

// mockGenAI echoes the raw text back for free-text fields, optionally
// trimmed or failing, so tests control the extraction outcome.
type mockGenAI struct {
	failWith error
	// override maps input text to the value the collaborator "extracts";
	// missing entries echo the trimmed input.
	override map[string]string
}

func newMockGenAI() *mockGenAI {
	return &mockGenAI{override: make(map[string]string)}
}

func (m *mockGenAI) ExtractField(ctx context.Context, kind genai.FieldKind, text string, locale models.Locale) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	if m.override != nil {
		if v, ok := m.override[text]; ok {
			return v, nil
		}
	}
	return strings.TrimSpace(text), nil
}

var _ genai.ClientInterface = (*mockGenAI)(nil)

// mockCalendar serves a fixed slot list and records bookings.
type mockCalendar struct {
	mu          sync.Mutex
	slots       []string
	slotsErr    error
	bookErr     error
	bookCount   int
	bookedDay   string
	bookedSlot  string
	appointment string
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{
		slots:       []string{"10:00 AM", "2:00 PM", "4:00 PM"},
		appointment: "appt-123",
	}
}

func (m *mockCalendar) AvailableSlots(ctx context.Context, day string) ([]string, error) {
	if m.slotsErr != nil {
		return nil, m.slotsErr
	}
	return m.slots, nil
}

func (m *mockCalendar) BookSlot(ctx context.Context, contactID, day, slot string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bookErr != nil {
		return "", m.bookErr
	}
	m.bookCount++
	m.bookedDay = day
	m.bookedSlot = slot
	return m.appointment, nil
}

// mockSender records every dispatched message.
type mockSender struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) lastSent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

// msgCounter builds sequential inbound messages for a contact.
type msgCounter struct {
	contactID string
	n         int
}

func (m *msgCounter) next(text string) models.InboundMessage {
	m.n++
	return models.InboundMessage{
		ContactID: m.contactID,
		Text:      text,
		MessageID: fmt.Sprintf("msg-%d", m.n),
	}
}
