package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/palinopr/bookingflow/internal/models"
	"github.com/palinopr/bookingflow/internal/store"
)

// conflictStore wraps a store and fails the first N saves with a version
// conflict.
type conflictStore struct {
	store.ConversationStore
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictStore) SaveState(ctx context.Context, expectedVersion int64, state models.ConversationState) error {
	s.mu.Lock()
	s.saves++
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()
	if inject {
		return store.ErrVersionConflict
	}
	return s.ConversationStore.SaveState(ctx, expectedVersion, state)
}

func newTestCoordinator(st store.ConversationStore, genai *mockGenAI, calendar *mockCalendar, sender *mockSender) *Coordinator {
	renderer := NewRenderer(models.LocaleEnglish)
	engine := NewEngine(DefaultEngineConfig(), renderer)
	extractor := NewExtractor(genai, DefaultBusinessDays)
	return NewCoordinator(st, extractor, engine, renderer, calendar, sender)
}

func TestCoordinatorFullConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	calendar := newMockCalendar()
	c := newTestCoordinator(st, newMockGenAI(), calendar, sender)

	ctx := context.Background()
	msgs := &msgCounter{contactID: "c1"}

	script := []string{
		"hello",
		"Juan",
		"more online sales",
		"no time to follow up leads",
		"500",
		"juan@example.com",
		"tuesday",
		"2pm",
	}
	var reply string
	for _, text := range script {
		var err error
		reply, err = c.HandleInbound(ctx, msgs.next(text))
		if err != nil {
			t.Fatalf("message %q: unexpected error: %v", text, err)
		}
	}

	state, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Step != models.StepScheduled {
		t.Fatalf("expected scheduled, got %q", state.Step)
	}
	if state.Version != int64(len(script)) {
		t.Errorf("expected version %d, got %d", len(script), state.Version)
	}
	if state.AppointmentID != "appt-123" {
		t.Errorf("expected appointment recorded, got %q", state.AppointmentID)
	}
	if calendar.bookCount != 1 {
		t.Errorf("expected exactly one booking, got %d", calendar.bookCount)
	}
	if calendar.bookedDay != "tuesday" || calendar.bookedSlot != "2:00 PM" {
		t.Errorf("booked %q at %q", calendar.bookedDay, calendar.bookedSlot)
	}
	if sender.lastSent() != reply {
		t.Errorf("last dispatched message %q does not match returned reply %q", sender.lastSent(), reply)
	}
}

func TestCoordinatorDuplicateDeliveryReplaysReply(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	c := newTestCoordinator(st, newMockGenAI(), newMockCalendar(), sender)

	ctx := context.Background()
	msg := models.InboundMessage{ContactID: "c1", Text: "hello", MessageID: "msg-1"}

	first, err := c.HandleInbound(ctx, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.HandleInbound(ctx, msg)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if first != second {
		t.Errorf("replay reply %q differs from original %q", second, first)
	}
	if sender.sentCount() != 2 {
		t.Errorf("expected reply dispatched twice, got %d", sender.sentCount())
	}

	state, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("replay must not bump the version, got %d", state.Version)
	}
	if state.Step != models.StepName {
		t.Errorf("replay must not advance the step, got %q", state.Step)
	}
}

func TestCoordinatorRetriesOnVersionConflict(t *testing.T) {
	cs := &conflictStore{ConversationStore: store.NewInMemoryStore(), conflicts: 2}
	sender := &mockSender{}
	c := newTestCoordinator(cs, newMockGenAI(), newMockCalendar(), sender)

	reply, err := c.HandleInbound(context.Background(),
		models.InboundMessage{ContactID: "c1", Text: "hello", MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("expected conflicts absorbed within the retry bound, got %v", err)
	}
	if reply == "" {
		t.Error("expected a reply after retry")
	}
	if cs.saves != 3 {
		t.Errorf("expected 3 save attempts, got %d", cs.saves)
	}
}

func TestCoordinatorGivesUpAfterRetryBound(t *testing.T) {
	cs := &conflictStore{ConversationStore: store.NewInMemoryStore(), conflicts: DefaultMaxSaveAttempts}
	sender := &mockSender{}
	c := newTestCoordinator(cs, newMockGenAI(), newMockCalendar(), sender)

	_, err := c.HandleInbound(context.Background(),
		models.InboundMessage{ContactID: "c1", Text: "hello", MessageID: "msg-1"})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Fatalf("expected ErrProcessingFailure, got %v", err)
	}
	// The customer still hears back: the generic failure notice.
	if sender.lastSent() != "An error occurred. Please try again." {
		t.Errorf("expected failure notice, got %q", sender.lastSent())
	}
}

func TestCoordinatorRetryExhaustionAfterBookingReportsAppointment(t *testing.T) {
	inner := store.NewInMemoryStore()
	cs := &conflictStore{ConversationStore: inner, conflicts: DefaultMaxSaveAttempts}
	sender := &mockSender{}
	calendar := newMockCalendar()
	c := newTestCoordinator(cs, newMockGenAI(), calendar, sender)

	ctx := context.Background()
	state := models.NewConversationState("c1")
	state.Step = models.StepTime
	state.Locale = models.LocaleEnglish
	state.Fields[models.FieldDay] = "tuesday"
	state.Fields[models.FieldEmail] = "juan@example.com"
	if err := inner.SaveState(ctx, 0, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := c.HandleInbound(ctx,
		models.InboundMessage{ContactID: "c1", Text: "2pm", MessageID: "msg-9"})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Fatalf("expected ErrProcessingFailure, got %v", err)
	}
	if calendar.bookCount != 1 {
		t.Errorf("expected a single booking across retries, got %d", calendar.bookCount)
	}
	// The booked slot is real even though the state never committed; the
	// error must carry the appointment ID for manual reconciliation.
	if !strings.Contains(err.Error(), "appt-123") {
		t.Errorf("expected the unrecorded appointment ID in the error, got %v", err)
	}
}

func TestCoordinatorConcurrentDeliveriesSerialize(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	c := newTestCoordinator(st, newMockGenAI(), newMockCalendar(), sender)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Same message ID from both deliveries: exactly one transition,
			// the other replays.
			if _, err := c.HandleInbound(ctx,
				models.InboundMessage{ContactID: "c1", Text: "hello", MessageID: "msg-1"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("expected exactly one committed transition, got version %d", state.Version)
	}
	if sender.sentCount() != 2 {
		t.Errorf("expected both deliveries answered, got %d", sender.sentCount())
	}
}

func TestCoordinatorBookingFailureLeavesStateUnsaved(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	calendar := newMockCalendar()
	calendar.bookErr = errors.New("calendar unavailable")
	c := newTestCoordinator(st, newMockGenAI(), calendar, sender)

	ctx := context.Background()
	state := models.NewConversationState("c1")
	state.Step = models.StepTime
	state.Locale = models.LocaleEnglish
	state.Fields[models.FieldDay] = "tuesday"
	state.Fields[models.FieldEmail] = "juan@example.com"
	if err := st.SaveState(ctx, 0, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := c.HandleInbound(ctx,
		models.InboundMessage{ContactID: "c1", Text: "2pm", MessageID: "msg-9"})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Fatalf("expected ErrProcessingFailure, got %v", err)
	}

	after, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Step != models.StepTime {
		t.Errorf("failed booking must not advance the step, got %q", after.Step)
	}
	if after.Status == models.StatusScheduled {
		t.Error("failed booking must not mark the contact scheduled")
	}
}

func TestCoordinatorExtractionFailureSendsNotice(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	genai := newMockGenAI()
	genai.failWith = errors.New("model unavailable")
	c := newTestCoordinator(st, genai, newMockCalendar(), sender)

	ctx := context.Background()
	state := models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleSpanish
	if err := st.SaveState(ctx, 0, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := c.HandleInbound(ctx,
		models.InboundMessage{ContactID: "c1", Text: "Juan", MessageID: "msg-2"})
	if !errors.Is(err, ErrProcessingFailure) {
		t.Fatalf("expected ErrProcessingFailure, got %v", err)
	}
	if sender.lastSent() != "Ocurrió un error. Por favor intenta de nuevo." {
		t.Errorf("expected localized failure notice, got %q", sender.lastSent())
	}

	after, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Version != 1 {
		t.Errorf("failed processing must not bump the version, got %d", after.Version)
	}
}

func TestCoordinatorTerminalAcknowledgement(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	c := newTestCoordinator(st, newMockGenAI(), newMockCalendar(), sender)

	ctx := context.Background()
	state := models.NewConversationState("c1")
	state.Step = models.StepScheduled
	state.Status = models.StatusScheduled
	state.Locale = models.LocaleEnglish
	if err := st.SaveState(ctx, 0, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := c.HandleInbound(ctx,
		models.InboundMessage{ContactID: "c1", Text: "thanks!", MessageID: "msg-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Thank you! If you need anything else, feel free to reach out." {
		t.Errorf("expected completion acknowledgement, got %q", reply)
	}

	after, err := st.LoadState(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Version != 1 {
		t.Errorf("terminal acknowledgement must not bump the version, got %d", after.Version)
	}
}

func TestCoordinatorRejectsInvalidMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	c := newTestCoordinator(st, newMockGenAI(), newMockCalendar(), &mockSender{})

	_, err := c.HandleInbound(context.Background(), models.InboundMessage{Text: "hi"})
	if err == nil {
		t.Fatal("expected validation error for missing contact ID")
	}
}
