package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/palinopr/bookingflow/internal/models"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultEngineConfig(), NewRenderer(models.LocaleEnglish))
}

func inbound(contactID, text, messageID string) models.InboundMessage {
	return models.InboundMessage{ContactID: contactID, Text: text, MessageID: messageID}
}

func TestTransitionGreetingDetectsLocale(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		text string
		want models.Locale
	}{
		{"hola, necesito ayuda", models.LocaleSpanish},
		{"hi there", models.LocaleEnglish},
		{"???", models.LocaleEnglish}, // inconclusive defaults to fallback
	}
	for _, c := range cases {
		state := models.NewConversationState("c1")
		res, err := e.Transition(state, inbound("c1", c.text, "m1"), TransitionInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.State.Locale != c.want {
			t.Errorf("text %q: expected locale %q, got %q", c.text, c.want, res.State.Locale)
		}
		if res.State.Step != models.StepName {
			t.Errorf("text %q: expected step name, got %q", c.text, res.State.Step)
		}
	}
}

func TestTransitionNameAdvancesToGoal(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleEnglish

	res, err := e.Transition(state, inbound("c1", "Juan Carlos", "m2"),
		TransitionInput{Extracted: Extraction{Value: "Juan Carlos", OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepGoal {
		t.Errorf("expected step goal, got %q", res.State.Step)
	}
	if res.State.Fields[models.FieldName] != "Juan Carlos" {
		t.Errorf("expected name field set, got %q", res.State.Fields[models.FieldName])
	}
	want := "Nice to meet you Juan Carlos! What specific goals are you looking to achieve for your business?"
	if res.Reply != want {
		t.Errorf("expected goal prompt, got %q", res.Reply)
	}
}

func TestTransitionRepromptsOnMissingValue(t *testing.T) {
	e := newTestEngine()
	for _, step := range []models.Step{models.StepName, models.StepGoal, models.StepPain, models.StepBudget, models.StepEmail, models.StepDay} {
		state := models.NewConversationState("c1")
		state.Step = step
		state.Locale = models.LocaleEnglish

		res, err := e.Transition(state, inbound("c1", "???", "m1"), TransitionInput{})
		if err != nil {
			t.Fatalf("step %s: unexpected error: %v", step, err)
		}
		if res.State.Step != step {
			t.Errorf("step %s: expected to stay, advanced to %q", step, res.State.Step)
		}
		if len(res.Updates) != 0 {
			t.Errorf("step %s: expected no field updates, got %v", step, res.Updates)
		}
	}
}

func TestTransitionNameTooLongReprompts(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleEnglish

	long := make([]byte, models.MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	res, err := e.Transition(state, inbound("c1", string(long), "m1"),
		TransitionInput{Extracted: Extraction{Value: string(long), OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepName {
		t.Errorf("expected to stay at name, got %q", res.State.Step)
	}
}

func TestTransitionLengthLimitsCountCharacters(t *testing.T) {
	e := newTestEngine()

	// 49 characters but 53 bytes: the limit must count characters, or a
	// valid accented answer loops on the re-prompt forever.
	goal := "Quiero más clientes aquí y más citas próximamente"
	state := models.NewConversationState("c1")
	state.Step = models.StepGoal
	state.Locale = models.LocaleSpanish

	res, err := e.Transition(state, inbound("c1", goal, "m1"),
		TransitionInput{Extracted: Extraction{Value: goal, OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepPain {
		t.Errorf("expected step pain for a 49-character goal, got %q", res.State.Step)
	}
	if res.State.Fields[models.FieldGoal] != goal {
		t.Errorf("expected goal field set, got %q", res.State.Fields[models.FieldGoal])
	}

	// A multibyte name sitting exactly at the limit is accepted.
	name := strings.Repeat("é", models.MaxNameLength)
	state = models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleSpanish

	res, err = e.Transition(state, inbound("c1", name, "m2"),
		TransitionInput{Extracted: Extraction{Value: name, OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepGoal {
		t.Errorf("expected step goal for a name at the character limit, got %q", res.State.Step)
	}

	// One character past the limit still re-prompts.
	long := strings.Repeat("é", models.MaxNameLength+1)
	state = models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleSpanish

	res, err = e.Transition(state, inbound("c1", long, "m3"),
		TransitionInput{Extracted: Extraction{Value: long, OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepName {
		t.Errorf("expected to stay at name past the character limit, got %q", res.State.Step)
	}
}

func TestTransitionBudgetBoundary(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		amount     string
		wantStep   models.Step
		wantStatus models.ConversationStatus
	}{
		{"300", models.StepEmail, models.StatusActive},        // exactly at threshold qualifies
		{"299", models.StepDisqualified, models.StatusDisqualified}, // one below disqualifies
		{"200", models.StepDisqualified, models.StatusDisqualified},
		{"1000", models.StepEmail, models.StatusActive},
	}
	for _, c := range cases {
		state := models.NewConversationState("c1")
		state.Step = models.StepBudget
		state.Locale = models.LocaleEnglish

		res, err := e.Transition(state, inbound("c1", c.amount, "m1"),
			TransitionInput{Extracted: Extraction{Value: c.amount, OK: true}})
		if err != nil {
			t.Fatalf("amount %s: unexpected error: %v", c.amount, err)
		}
		if res.State.Step != c.wantStep {
			t.Errorf("amount %s: expected step %q, got %q", c.amount, c.wantStep, res.State.Step)
		}
		if res.State.Status != c.wantStatus {
			t.Errorf("amount %s: expected status %q, got %q", c.amount, c.wantStatus, res.State.Status)
		}
	}
}

func TestTransitionDisqualifiedReplyIsFixedRejection(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = models.StepBudget
	state.Locale = models.LocaleEnglish

	res, err := e.Transition(state, inbound("c1", "200", "m1"),
		TransitionInput{Extracted: Extraction{Value: "200", OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "I appreciate your interest! We work with businesses investing at least $300/month in marketing. Feel free to reach out when you're ready to invest in growth."
	if res.Reply != want {
		t.Errorf("expected rejection template, got %q", res.Reply)
	}
}

func TestTransitionTimeBooksMatchingSlot(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = models.StepTime
	state.Locale = models.LocaleEnglish
	state.Fields[models.FieldDay] = "tuesday"
	state.Fields[models.FieldEmail] = "juan@example.com"

	slots := []string{"10:00 AM", "2:00 PM", "4:00 PM"}
	res, err := e.Transition(state, inbound("c1", "2pm works", "m1"),
		TransitionInput{Extracted: Extraction{Value: "2pm", OK: true}, Slots: slots})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Book {
		t.Error("expected booking to be requested")
	}
	if res.State.Step != models.StepScheduled {
		t.Errorf("expected step scheduled, got %q", res.State.Step)
	}
	if res.State.Status != models.StatusScheduled {
		t.Errorf("expected status scheduled, got %q", res.State.Status)
	}
	if res.State.Fields[models.FieldTime] != "2:00 PM" {
		t.Errorf("expected canonical slot stored, got %q", res.State.Fields[models.FieldTime])
	}
}

func TestTransitionTimeRepromptsWithSlots(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = models.StepTime
	state.Locale = models.LocaleEnglish
	state.Fields[models.FieldDay] = "tuesday"

	slots := []string{"10:00 AM", "4:00 PM"}
	res, err := e.Transition(state, inbound("c1", "9pm", "m1"),
		TransitionInput{Extracted: Extraction{Value: "9pm", OK: true}, Slots: slots})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Book {
		t.Error("expected no booking for unavailable slot")
	}
	if res.State.Step != models.StepTime {
		t.Errorf("expected to stay at time, got %q", res.State.Step)
	}
	want := "Great! I have these times available on Tuesday: 10:00 AM, 4:00 PM. Which works best for you?"
	if res.Reply != want {
		t.Errorf("expected refreshed slot prompt, got %q", res.Reply)
	}
}

func TestTransitionTerminalStateUnchanged(t *testing.T) {
	e := newTestEngine()
	for _, step := range []models.Step{models.StepScheduled, models.StepDisqualified} {
		state := models.NewConversationState("c1")
		state.Step = step
		state.Locale = models.LocaleSpanish
		if step == models.StepScheduled {
			state.Status = models.StatusScheduled
		} else {
			state.Status = models.StatusDisqualified
		}

		res, err := e.Transition(state, inbound("c1", "hello again", "m9"), TransitionInput{})
		if err != nil {
			t.Fatalf("step %s: unexpected error: %v", step, err)
		}
		if res.Changed {
			t.Errorf("step %s: expected no state change", step)
		}
		if res.Reply != "¡Gracias! Si necesitas algo más, no dudes en contactarnos." {
			t.Errorf("step %s: expected conversation-complete reply, got %q", step, res.Reply)
		}
	}
}

func TestTransitionCorruptStepFails(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	state.Step = "limbo"

	_, err := e.Transition(state, inbound("c1", "hi", "m1"), TransitionInput{})
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}

func TestTransitionNeverSkipsSteps(t *testing.T) {
	e := newTestEngine()
	// At the name step, an email-looking answer is still treated as a name
	// attempt; the flow never jumps ahead to the email step.
	state := models.NewConversationState("c1")
	state.Step = models.StepName
	state.Locale = models.LocaleEnglish

	res, err := e.Transition(state, inbound("c1", "juan@example.com", "m1"),
		TransitionInput{Extracted: Extraction{Value: "juan@example.com", OK: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Step != models.StepGoal {
		t.Errorf("expected step goal, got %q", res.State.Step)
	}
	if _, set := res.State.Fields[models.FieldEmail]; set {
		t.Error("email field must not be set by the name step")
	}
}

func TestTransitionFullFlowReachesScheduled(t *testing.T) {
	e := newTestEngine()
	state := models.NewConversationState("c1")
	slots := []string{"10:00 AM", "2:00 PM"}

	advance := func(text string, ext Extraction, withSlots bool) TransitionResult {
		t.Helper()
		input := TransitionInput{Extracted: ext}
		if withSlots {
			input.Slots = slots
		}
		res, err := e.Transition(state, inbound("c1", text, "m"), input)
		if err != nil {
			t.Fatalf("step %s: unexpected error: %v", state.Step, err)
		}
		state = res.State
		return res
	}

	advance("hello", Extraction{}, false)
	advance("Juan", Extraction{Value: "Juan", OK: true}, false)
	advance("more sales", Extraction{Value: "more sales", OK: true}, false)
	advance("no time", Extraction{Value: "no time", OK: true}, false)
	advance("500", Extraction{Value: "500", OK: true}, false)
	advance("juan@example.com", Extraction{Value: "juan@example.com", OK: true}, false)
	advance("tuesday", Extraction{Value: "tuesday", OK: true}, true)
	res := advance("10am", Extraction{Value: "10am", OK: true}, true)

	if state.Step != models.StepScheduled {
		t.Fatalf("expected scheduled, got %q", state.Step)
	}
	if !res.Book {
		t.Error("expected final transition to request booking")
	}
	for _, key := range []models.FieldKey{models.FieldName, models.FieldGoal, models.FieldPainPoint, models.FieldBudget, models.FieldEmail, models.FieldDay, models.FieldTime} {
		if state.Fields[key] == "" {
			t.Errorf("expected field %q populated", key)
		}
	}
}
