package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/palinopr/bookingflow/internal/genai"
	"github.com/palinopr/bookingflow/internal/models"
)

// Extraction is the outcome of pulling a candidate field value out of a raw
// message. OK is false when the message carries no usable value; the engine
// then re-prompts the same step instead of advancing.
type Extraction struct {
	Value string
	OK    bool
}

var (
	budgetRegex = regexp.MustCompile(`\d+`)
	emailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	timeRegex   = regexp.MustCompile(`(?i)\d{1,2}:\d{2}\s*(?:[ap]m)?|\d{1,2}\s*[ap]m`)
)

// dayTokens maps lowercase, accent-stripped day tokens to their canonical
// English weekday. Both languages match regardless of the conversation
// locale; customers mix them freely.
var dayTokens = map[string]string{
	"tuesday":   "tuesday",
	"wednesday": "wednesday",
	"thursday":  "thursday",
	"friday":    "friday",
	"martes":    "tuesday",
	"miercoles": "wednesday",
	"jueves":    "thursday",
	"viernes":   "friday",
}

// Extractor turns raw message text plus the expected field type into a typed
// candidate value. Structured fields (budget, email, day, time) are parsed
// directly; free-text fields (name, goal, pain) are delegated to the
// text-understanding collaborator with local guardrails applied afterwards.
type Extractor struct {
	genai        genai.ClientInterface
	businessDays []string
}

// NewExtractor creates an extractor delegating free-text fields to the given
// GenAI client. businessDays lists the allowed canonical English weekdays.
func NewExtractor(client genai.ClientInterface, businessDays []string) *Extractor {
	return &Extractor{genai: client, businessDays: businessDays}
}

// Extract produces the candidate value for the given step from raw text.
// A collaborator failure is returned as an error; an unusable message is a
// non-OK Extraction, never an error.
func (x *Extractor) Extract(ctx context.Context, step models.Step, text string, locale models.Locale) (Extraction, error) {
	switch step {
	case models.StepName:
		return x.extractFreeText(ctx, genai.FieldKindName, text, locale)
	case models.StepGoal:
		return x.extractFreeText(ctx, genai.FieldKindGoal, text, locale)
	case models.StepPain:
		return x.extractFreeText(ctx, genai.FieldKindPain, text, locale)
	case models.StepBudget:
		return extractBudget(text), nil
	case models.StepEmail:
		return extractEmail(text), nil
	case models.StepDay:
		return x.extractDay(text), nil
	case models.StepTime:
		return extractTime(text), nil
	default:
		// Greeting and terminal steps extract nothing.
		return Extraction{}, nil
	}
}

// extractFreeText delegates to the GenAI collaborator and re-validates its
// output locally. The collaborator's answer is never trusted as-is.
func (x *Extractor) extractFreeText(ctx context.Context, kind genai.FieldKind, text string, locale models.Locale) (Extraction, error) {
	value, err := x.genai.ExtractField(ctx, kind, text, locale)
	if err != nil {
		return Extraction{}, fmt.Errorf("free-text extraction failed: %w", err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		slog.Debug("Extractor free-text extraction found no value", "kind", kind)
		return Extraction{}, nil
	}
	return Extraction{Value: value, OK: true}, nil
}

// extractBudget pulls the first integer amount out of free text, so answers
// like "about $500 a month" qualify.
func extractBudget(text string) Extraction {
	match := budgetRegex.FindString(text)
	if match == "" {
		return Extraction{}
	}
	return Extraction{Value: match, OK: true}
}

func extractEmail(text string) Extraction {
	match := emailRegex.FindString(text)
	if match == "" {
		return Extraction{}
	}
	return Extraction{Value: match, OK: true}
}

// extractDay scans for an allowed business day token in either language and
// returns the canonical English weekday.
func (x *Extractor) extractDay(text string) Extraction {
	normalized := stripAccents(strings.ToLower(text))
	for token, canonical := range dayTokens {
		if !strings.Contains(normalized, token) {
			continue
		}
		for _, allowed := range x.businessDays {
			if canonical == allowed {
				return Extraction{Value: canonical, OK: true}
			}
		}
	}
	return Extraction{}
}

func extractTime(text string) Extraction {
	match := timeRegex.FindString(text)
	if match == "" {
		return Extraction{}
	}
	return Extraction{Value: match, OK: true}
}

// MatchSlot compares a freely-typed time token against the offered slot list
// and returns the canonical slot string on a match. "2pm", "2 PM" and
// "2:00 pm" all match the slot "2:00 PM".
func MatchSlot(token string, slots []string) (string, bool) {
	want := normalizeTimeToken(token)
	if want == "" {
		return "", false
	}
	for _, slot := range slots {
		if normalizeTimeToken(slot) == want {
			return slot, true
		}
	}
	return "", false
}

// normalizeTimeToken reduces a time expression to a comparable form:
// lowercase, no whitespace, ":00" dropped ("10:00am" and "10am" compare
// equal).
func normalizeTimeToken(token string) string {
	t := strings.ToLower(token)
	t = strings.ReplaceAll(t, " ", "")
	t = strings.ReplaceAll(t, ":00", "")
	return t
}

// stripAccents folds the accented vowels and ñ used in Spanish day names so
// "miércoles" and "miercoles" both match.
func stripAccents(s string) string {
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	)
	return replacer.Replace(s)
}

// DisplayDay renders a canonical English weekday in the conversation locale,
// capitalized for message templates.
func DisplayDay(canonical string, locale models.Locale) string {
	if locale == models.LocaleSpanish {
		if es, ok := spanishDays[canonical]; ok {
			return es
		}
	}
	return capitalize(canonical)
}

var spanishDays = map[string]string{
	"tuesday":   "Martes",
	"wednesday": "Miércoles",
	"thursday":  "Jueves",
	"friday":    "Viernes",
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
