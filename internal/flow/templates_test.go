package flow

import (
	"strings"
	"testing"

	"github.com/palinopr/bookingflow/internal/models"
)

func TestRenderSubstitutesParams(t *testing.T) {
	r := NewRenderer(models.LocaleEnglish)
	got := r.Render(TemplateAskTime, models.LocaleEnglish, map[string]string{
		"day":   "Tuesday",
		"times": "10:00 AM, 2:00 PM",
	})
	want := "Great! I have these times available on Tuesday: 10:00 AM, 2:00 PM. Which works best for you?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderUnknownLocaleFallsBack(t *testing.T) {
	r := NewRenderer(models.LocaleEnglish)
	got := r.Render(TemplateAskBudget, models.Locale("fr"), nil)
	want := templates[models.LocaleEnglish][TemplateAskBudget]
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderSpanishTemplates(t *testing.T) {
	r := NewRenderer(models.LocaleEnglish)
	got := r.Render(TemplateBudgetTooLow, models.LocaleSpanish, map[string]string{"threshold": "300"})
	if !strings.Contains(got, "$300/mes") {
		t.Errorf("expected threshold substituted into Spanish rejection, got %q", got)
	}
}

func TestAllTemplatesExistInBothLocales(t *testing.T) {
	keys := []TemplateKey{
		TemplateGreeting, TemplateAskNameAgain, TemplateAskGoal, TemplateAskGoalAgain,
		TemplateAskPain, TemplateAskPainAgain, TemplateAskBudget, TemplateAskBudgetAgain,
		TemplateBudgetTooLow, TemplateAskEmail, TemplateAskEmailAgain, TemplateAskDay,
		TemplateAskDayAgain, TemplateAskTime, TemplateAppointmentConfirmed,
		TemplateConversationComplete, TemplateProcessingError,
	}
	for _, locale := range []models.Locale{models.LocaleEnglish, models.LocaleSpanish} {
		for _, key := range keys {
			if templates[locale][key] == "" {
				t.Errorf("missing template %q for locale %q", key, locale)
			}
		}
	}
}
