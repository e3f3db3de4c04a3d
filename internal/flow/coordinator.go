package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/palinopr/bookingflow/internal/models"
	"github.com/palinopr/bookingflow/internal/store"
)

// ErrProcessingFailure is returned to the transport when a message could not
// be processed: a collaborator was unavailable or the bounded conflict retry
// was exhausted. No partial state is persisted in either case.
var ErrProcessingFailure = errors.New("message processing failed")

// DefaultMaxSaveAttempts bounds the reload-and-retry cycle on version
// conflicts. Per-contact serialization makes conflicts rare; the bound is a
// safety net, not the primary mechanism.
const DefaultMaxSaveAttempts = 3

// CalendarService is the external calendar/booking collaborator.
type CalendarService interface {
	AvailableSlots(ctx context.Context, day string) ([]string, error)
	BookSlot(ctx context.Context, contactID, day, slot string) (string, error)
}

// Sender is the external message delivery collaborator.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Coordinator wraps the pure transition engine with per-contact
// serialization, idempotent replay of retried deliveries, and bounded
// retry-on-conflict against the state store.
type Coordinator struct {
	store       store.ConversationStore
	extractor   *Extractor
	engine      *Engine
	renderer    *Renderer
	calendar    CalendarService
	sender      Sender
	locks       *contactLocks
	maxAttempts int
}

// NewCoordinator creates a conversation coordinator.
func NewCoordinator(st store.ConversationStore, extractor *Extractor, engine *Engine, renderer *Renderer, calendar CalendarService, sender Sender) *Coordinator {
	return &Coordinator{
		store:       st,
		extractor:   extractor,
		engine:      engine,
		renderer:    renderer,
		calendar:    calendar,
		sender:      sender,
		locks:       newContactLocks(),
		maxAttempts: DefaultMaxSaveAttempts,
	}
}

// HandleInbound processes one inbound message end to end and returns the
// outbound reply that was dispatched. It is safe to call multiple times for
// the same message ID: replays resend the recorded reply without re-running
// the transition or bumping the state version.
func (c *Coordinator) HandleInbound(ctx context.Context, msg models.InboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("invalid inbound message: %w", err)
	}

	unlock := c.locks.Lock(msg.ContactID)
	defer unlock()

	reply, err := c.process(ctx, msg)
	if err != nil {
		slog.Error("Coordinator failed to process inbound message",
			"error", err, "contactID", msg.ContactID, "messageID", msg.MessageID)
		c.sendFailureNotice(ctx, msg.ContactID)
		return "", err
	}
	return reply, nil
}

// process runs the load-transition-save cycle under the per-contact lock,
// retrying on version conflicts up to the configured bound.
func (c *Coordinator) process(ctx context.Context, msg models.InboundMessage) (string, error) {
	// An appointment is booked at most once per inbound message, even when
	// the following save needs a conflict retry.
	appointmentID := ""

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		state, err := c.store.LoadState(ctx, msg.ContactID)
		if err != nil {
			return "", fmt.Errorf("%w: state load: %v", ErrProcessingFailure, err)
		}

		// Duplicate delivery: resend the recorded reply verbatim.
		if state.LastMessageID != "" && state.LastMessageID == msg.MessageID {
			slog.Info("Coordinator replaying duplicate message",
				"contactID", msg.ContactID, "messageID", msg.MessageID)
			if err := c.sender.SendMessage(ctx, msg.ContactID, state.LastReply); err != nil {
				return "", fmt.Errorf("%w: replay send: %v", ErrProcessingFailure, err)
			}
			return state.LastReply, nil
		}

		if !state.Step.Valid() {
			return "", fmt.Errorf("%w: contact %s step %q", ErrCorruptState, msg.ContactID, state.Step)
		}

		input, err := c.collectInput(ctx, state, msg)
		if err != nil {
			return "", err
		}

		result, err := c.engine.Transition(state, msg, input)
		if err != nil {
			return "", err
		}

		// Terminal conversations are acknowledged without persisting.
		if !result.Changed {
			if err := c.sender.SendMessage(ctx, msg.ContactID, result.Reply); err != nil {
				return "", fmt.Errorf("%w: send: %v", ErrProcessingFailure, err)
			}
			return result.Reply, nil
		}

		// Book before committing the scheduled status so a failed booking
		// never leaves a contact marked scheduled without an appointment.
		if result.Book && appointmentID == "" {
			appointmentID, err = c.calendar.BookSlot(ctx, msg.ContactID,
				result.State.Fields[models.FieldDay], result.State.Fields[models.FieldTime])
			if err != nil {
				return "", fmt.Errorf("%w: booking: %v", ErrProcessingFailure, err)
			}
		}
		if result.Book {
			result.State.AppointmentID = appointmentID
		}

		err = c.store.SaveState(ctx, state.Version, result.State)
		if errors.Is(err, store.ErrVersionConflict) {
			slog.Warn("Coordinator save conflict, reloading",
				"contactID", msg.ContactID, "attempt", attempt, "version", state.Version)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: state save: %v", ErrProcessingFailure, err)
		}

		if err := c.sender.SendMessage(ctx, msg.ContactID, result.Reply); err != nil {
			// State is committed; the upstream retry will hit the dedup path
			// and resend this reply.
			return "", fmt.Errorf("%w: send: %v", ErrProcessingFailure, err)
		}

		slog.Info("Coordinator processed message",
			"contactID", msg.ContactID, "messageID", msg.MessageID,
			"step", result.State.Step, "version", state.Version+1)
		return result.Reply, nil
	}

	if appointmentID != "" {
		// The slot is booked but the scheduled state never committed; surface
		// the appointment ID so operators can reconcile the calendar.
		slog.Error("Coordinator exhausted save retries after booking",
			"contactID", msg.ContactID, "appointmentID", appointmentID)
		return "", fmt.Errorf("%w: save retries exhausted for contact %s, booked appointment %s not recorded",
			ErrProcessingFailure, msg.ContactID, appointmentID)
	}
	return "", fmt.Errorf("%w: save retries exhausted for contact %s", ErrProcessingFailure, msg.ContactID)
}

// collectInput gathers the collaborator results the pure engine needs for
// the current step: the extracted candidate value, and the slot list for the
// day and time steps.
func (c *Coordinator) collectInput(ctx context.Context, state models.ConversationState, msg models.InboundMessage) (TransitionInput, error) {
	locale := state.Locale
	if !locale.Valid() {
		locale = c.engine.Config().FallbackLocale
	}

	extracted, err := c.extractor.Extract(ctx, state.Step, msg.Text, locale)
	if err != nil {
		return TransitionInput{}, fmt.Errorf("%w: extraction: %v", ErrProcessingFailure, err)
	}

	input := TransitionInput{Extracted: extracted}
	switch {
	case state.Step == models.StepDay && extracted.OK:
		input.Slots, err = c.calendar.AvailableSlots(ctx, extracted.Value)
	case state.Step == models.StepTime:
		input.Slots, err = c.calendar.AvailableSlots(ctx, state.Fields[models.FieldDay])
	}
	if err != nil {
		return TransitionInput{}, fmt.Errorf("%w: slot lookup: %v", ErrProcessingFailure, err)
	}
	return input, nil
}

// sendFailureNotice delivers the localized generic failure message. Internal
// error detail never reaches the customer channel.
func (c *Coordinator) sendFailureNotice(ctx context.Context, contactID string) {
	state, err := c.store.LoadState(ctx, contactID)
	locale := c.engine.Config().FallbackLocale
	if err == nil && state.Locale.Valid() {
		locale = state.Locale
	}
	notice := c.renderer.Render(TemplateProcessingError, locale, nil)
	if err := c.sender.SendMessage(ctx, contactID, notice); err != nil {
		slog.Error("Coordinator failed to send failure notice", "error", err, "contactID", contactID)
	}
}
