package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/palinopr/bookingflow/internal/models"
	"github.com/palinopr/bookingflow/internal/twiliowhatsapp"
	"github.com/palinopr/bookingflow/internal/whatsapp"
)

// mockGHLSender records sent messages.
type mockGHLSender struct {
	sent []string
	err  error
}

func (m *mockGHLSender) SendMessage(ctx context.Context, contactID, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func TestGHLServiceSendMessageEmitsReceipt(t *testing.T) {
	sender := &mockGHLSender{}
	svc := NewGHLService(sender)

	if err := svc.SendMessage(context.Background(), "contact-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(sender.sent))
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "contact-1" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent receipt")
	}
}

func TestGHLServiceRejectsEmptyRecipient(t *testing.T) {
	svc := NewGHLService(&mockGHLSender{})
	if err := svc.SendMessage(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestGHLServiceEmitResponse(t *testing.T) {
	svc := NewGHLService(&mockGHLSender{})

	svc.EmitResponse(models.Response{From: "contact-1", Body: "hi", MessageID: "m-1"})

	select {
	case resp := <-svc.Responses():
		if resp.From != "contact-1" || resp.MessageID != "m-1" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an emitted response")
	}
}

func TestGHLServiceSendAfterStop(t *testing.T) {
	svc := NewGHLService(&mockGHLSender{})
	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "contact-1", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"15551234567", "15551234567", false},
		{"12345", "", true}, // too short
		{"no digits", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := svc.ValidateAndCanonicalizeRecipient(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("recipient %q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("recipient %q: unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("recipient %q: got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTwilioServiceWebhookEmitsResponse(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "hola")
	form.Set("MessageSid", "SM123")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.Body != "hola" || resp.MessageID != "SM123" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected webhook to emit a response")
	}
}

func TestTwilioServiceWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("From=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWhatsAppServiceSendMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent receipt")
	}
}

func TestWhatsAppServiceSendAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestWhatsAppServiceRejectsShortNumber(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "123", "hello"); err == nil {
		t.Fatal("expected error for short phone number")
	}
}
