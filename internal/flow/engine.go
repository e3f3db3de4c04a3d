package flow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/palinopr/bookingflow/internal/models"
)

// ErrCorruptState is returned when a loaded state carries a step the engine
// does not define. It indicates store corruption, not customer input, and is
// surfaced distinctly so operators can tell the two apart.
var ErrCorruptState = errors.New("conversation state step not recognized")

// Default engine configuration values.
const (
	// DefaultBudgetThreshold is the minimum monthly budget to qualify.
	DefaultBudgetThreshold = 300
)

// DefaultBusinessDays lists the weekdays with call availability.
var DefaultBusinessDays = []string{"tuesday", "wednesday", "thursday", "friday"}

// spanishIndicators are the greeting-message keywords that select the
// Spanish locale.
var spanishIndicators = []string{"hola", "buenos", "necesito", "ayuda", "quiero"}

// EngineConfig carries the externally supplied tuning of the step graph.
type EngineConfig struct {
	BudgetThreshold int
	BusinessDays    []string
	FallbackLocale  models.Locale
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BudgetThreshold: DefaultBudgetThreshold,
		BusinessDays:    DefaultBusinessDays,
		FallbackLocale:  models.LocaleEnglish,
	}
}

// TransitionInput carries the per-message collaborator results the pure
// engine needs: the extracted candidate value for the current step and, for
// the day/time steps, the available slot list.
type TransitionInput struct {
	Extracted Extraction
	Slots     []string
}

// TransitionResult is the outcome of one step transition.
type TransitionResult struct {
	// State is the computed next state. Untouched (Changed=false) for
	// messages arriving after a terminal step.
	State models.ConversationState
	// Reply is the outbound message to send.
	Reply string
	// Updates lists the fields this transition set.
	Updates map[models.FieldKey]string
	// Changed reports whether State must be persisted.
	Changed bool
	// Book is set when the transition reached the scheduled terminal and an
	// appointment must be booked before the state is committed.
	Book bool
}

// Engine is the pure step-transition function. It performs no I/O and is
// fully deterministic given its inputs.
type Engine struct {
	cfg      EngineConfig
	renderer *Renderer
}

// NewEngine creates a transition engine with the given configuration.
func NewEngine(cfg EngineConfig, renderer *Renderer) *Engine {
	if cfg.BudgetThreshold <= 0 {
		cfg.BudgetThreshold = DefaultBudgetThreshold
	}
	if len(cfg.BusinessDays) == 0 {
		cfg.BusinessDays = DefaultBusinessDays
	}
	if !cfg.FallbackLocale.Valid() {
		cfg.FallbackLocale = models.LocaleEnglish
	}
	return &Engine{cfg: cfg, renderer: renderer}
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Transition computes the next state and outbound reply for one inbound
// message. Input that fails the current step's validation re-prompts the
// same step; the engine never advances speculatively and never skips a step.
func (e *Engine) Transition(state models.ConversationState, msg models.InboundMessage, input TransitionInput) (TransitionResult, error) {
	if !state.Step.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrCorruptState, state.Step)
	}

	locale := state.Locale
	if !locale.Valid() {
		locale = e.cfg.FallbackLocale
	}

	// Terminal conversations acknowledge without mutating state.
	if state.Step.Terminal() || state.Status.Terminal() {
		return TransitionResult{
			State: state,
			Reply: e.renderer.Render(TemplateConversationComplete, locale, nil),
		}, nil
	}

	next := state.Clone()
	next.LastMessageID = msg.MessageID
	updates := make(map[models.FieldKey]string)
	var reply string
	book := false

	switch state.Step {
	case models.StepGreeting:
		locale = detectLocale(msg.Text, e.cfg.FallbackLocale)
		next.Locale = locale
		next.Step = models.StepName
		reply = e.renderer.Render(TemplateGreeting, locale, nil)

	case models.StepName:
		value := input.Extracted.Value
		// Length limits count characters, not bytes; accented answers must
		// not lose budget to multibyte encoding.
		if input.Extracted.OK && value != "" && utf8.RuneCountInString(value) <= models.MaxNameLength {
			updates[models.FieldName] = value
			next.Step = models.StepGoal
			reply = e.renderer.Render(TemplateAskGoal, locale, map[string]string{"name": value})
		} else {
			reply = e.renderer.Render(TemplateAskNameAgain, locale, nil)
		}

	case models.StepGoal:
		value := input.Extracted.Value
		if input.Extracted.OK && value != "" && utf8.RuneCountInString(value) <= models.MaxGoalLength {
			updates[models.FieldGoal] = value
			next.Step = models.StepPain
			reply = e.renderer.Render(TemplateAskPain, locale, nil)
		} else {
			reply = e.renderer.Render(TemplateAskGoalAgain, locale, nil)
		}

	case models.StepPain:
		value := input.Extracted.Value
		if input.Extracted.OK && value != "" {
			updates[models.FieldPainPoint] = value
			next.Step = models.StepBudget
			reply = e.renderer.Render(TemplateAskBudget, locale, nil)
		} else {
			reply = e.renderer.Render(TemplateAskPainAgain, locale, nil)
		}

	case models.StepBudget:
		amount, ok := parseBudget(input.Extracted)
		switch {
		case !ok:
			reply = e.renderer.Render(TemplateAskBudgetAgain, locale, nil)
		case amount >= e.cfg.BudgetThreshold:
			updates[models.FieldBudget] = input.Extracted.Value
			next.Step = models.StepEmail
			reply = e.renderer.Render(TemplateAskEmail, locale, nil)
		default:
			// Below threshold is a permanent disqualification, not a retry.
			updates[models.FieldBudget] = input.Extracted.Value
			next.Step = models.StepDisqualified
			next.Status = models.StatusDisqualified
			reply = e.renderer.Render(TemplateBudgetTooLow, locale, map[string]string{
				"threshold": strconv.Itoa(e.cfg.BudgetThreshold),
			})
		}

	case models.StepEmail:
		if input.Extracted.OK {
			updates[models.FieldEmail] = input.Extracted.Value
			next.Step = models.StepDay
			reply = e.renderer.Render(TemplateAskDay, locale, nil)
		} else {
			reply = e.renderer.Render(TemplateAskEmailAgain, locale, nil)
		}

	case models.StepDay:
		if input.Extracted.OK {
			updates[models.FieldDay] = input.Extracted.Value
			next.Step = models.StepTime
			reply = e.renderer.Render(TemplateAskTime, locale, map[string]string{
				"day":   DisplayDay(input.Extracted.Value, locale),
				"times": strings.Join(input.Slots, ", "),
			})
		} else {
			reply = e.renderer.Render(TemplateAskDayAgain, locale, nil)
		}

	case models.StepTime:
		slot, ok := "", false
		if input.Extracted.OK {
			slot, ok = MatchSlot(input.Extracted.Value, input.Slots)
		}
		if ok {
			updates[models.FieldTime] = slot
			next.Step = models.StepScheduled
			next.Status = models.StatusScheduled
			book = true
			reply = e.renderer.Render(TemplateAppointmentConfirmed, locale, map[string]string{
				"day":   DisplayDay(next.Fields[models.FieldDay], locale),
				"time":  slot,
				"email": next.Fields[models.FieldEmail],
			})
		} else {
			// Re-prompt with the refreshed slot list rather than a bare
			// "pick again" so the customer always sees current options.
			reply = e.renderer.Render(TemplateAskTime, locale, map[string]string{
				"day":   DisplayDay(next.Fields[models.FieldDay], locale),
				"times": strings.Join(input.Slots, ", "),
			})
		}
	}

	for key, value := range updates {
		next.Fields[key] = value
	}
	next.LastReply = reply

	return TransitionResult{
		State:   next,
		Reply:   reply,
		Updates: updates,
		Changed: true,
		Book:    book,
	}, nil
}

// detectLocale picks the conversation language from the first message.
// Inconclusive input defaults to the fallback locale.
func detectLocale(text string, fallback models.Locale) models.Locale {
	lower := strings.ToLower(text)
	for _, word := range spanishIndicators {
		if strings.Contains(lower, word) {
			return models.LocaleSpanish
		}
	}
	if fallback.Valid() {
		return fallback
	}
	return models.LocaleEnglish
}

// parseBudget converts an extracted amount into an integer. Non-OK
// extractions and unparseable or negative values report !ok.
func parseBudget(ext Extraction) (int, bool) {
	if !ext.OK {
		return 0, false
	}
	amount, err := strconv.Atoi(ext.Value)
	if err != nil || amount < 0 {
		return 0, false
	}
	return amount, true
}
