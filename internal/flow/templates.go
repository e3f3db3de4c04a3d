// Package flow implements the booking conversation: response templates,
// field extraction, the pure step-transition engine, and the conversation
// coordinator that drives them against the state store.
package flow

import (
	"log/slog"
	"strings"

	"github.com/palinopr/bookingflow/internal/models"
)

// TemplateKey identifies one outbound message template.
type TemplateKey string

const (
	TemplateGreeting             TemplateKey = "greeting"
	TemplateAskNameAgain         TemplateKey = "ask_name_again"
	TemplateAskGoal              TemplateKey = "ask_goal"
	TemplateAskGoalAgain         TemplateKey = "ask_goal_again"
	TemplateAskPain              TemplateKey = "ask_pain"
	TemplateAskPainAgain         TemplateKey = "ask_pain_again"
	TemplateAskBudget            TemplateKey = "ask_budget"
	TemplateAskBudgetAgain       TemplateKey = "ask_budget_again"
	TemplateBudgetTooLow         TemplateKey = "budget_too_low"
	TemplateAskEmail             TemplateKey = "ask_email"
	TemplateAskEmailAgain        TemplateKey = "ask_email_again"
	TemplateAskDay               TemplateKey = "ask_day"
	TemplateAskDayAgain          TemplateKey = "ask_day_again"
	TemplateAskTime              TemplateKey = "ask_time"
	TemplateAppointmentConfirmed TemplateKey = "appointment_confirmed"
	TemplateConversationComplete TemplateKey = "conversation_complete"
	TemplateProcessingError      TemplateKey = "processing_error"
)

// templates holds one message per key per supported locale.
var templates = map[models.Locale]map[TemplateKey]string{
	models.LocaleEnglish: {
		TemplateGreeting:             "Hi! I'm Maria from AI Outlet Media. I'd love to help you grow your business. What's your name?",
		TemplateAskNameAgain:         "I didn't catch your name. What should I call you?",
		TemplateAskGoal:              "Nice to meet you {name}! What specific goals are you looking to achieve for your business?",
		TemplateAskGoalAgain:         "Could you tell me more about what you'd like to achieve for your business?",
		TemplateAskPain:              "I understand. What's the biggest challenge you're facing right now in reaching those goals?",
		TemplateAskPainAgain:         "What specific challenges are preventing you from achieving your goals?",
		TemplateAskBudget:            "What's your monthly marketing budget to invest in solving this challenge?",
		TemplateAskBudgetAgain:       "Could you share your approximate monthly marketing budget? (Please include a number)",
		TemplateBudgetTooLow:         "I appreciate your interest! We work with businesses investing at least ${threshold}/month in marketing. Feel free to reach out when you're ready to invest in growth.",
		TemplateAskEmail:             "Perfect! What's the best email to send you the appointment details?",
		TemplateAskEmailAgain:        "Please provide a valid email address so I can send you the appointment details.",
		TemplateAskDay:               "What day works best for you for a quick call? We have availability Tuesday through Friday.",
		TemplateAskDayAgain:          "Please choose a day between Tuesday and Friday that works best for you.",
		TemplateAskTime:              "Great! I have these times available on {day}: {times}. Which works best for you?",
		TemplateAppointmentConfirmed: "Perfect! Your appointment is confirmed for {day} at {time}. I've sent the details to {email}. Looking forward to speaking with you!",
		TemplateConversationComplete: "Thank you! If you need anything else, feel free to reach out.",
		TemplateProcessingError:      "An error occurred. Please try again.",
	},
	models.LocaleSpanish: {
		TemplateGreeting:             "¡Hola! Soy María de AI Outlet Media. Me encantaría ayudarte a hacer crecer tu negocio. ¿Cuál es tu nombre?",
		TemplateAskNameAgain:         "No entendí tu nombre. ¿Cómo te llamas?",
		TemplateAskGoal:              "¡Mucho gusto {name}! ¿Qué objetivos específicos quieres lograr para tu negocio?",
		TemplateAskGoalAgain:         "¿Podrías contarme más sobre lo que te gustaría lograr para tu negocio?",
		TemplateAskPain:              "Entiendo. ¿Cuál es el mayor desafío que enfrentas actualmente para alcanzar esos objetivos?",
		TemplateAskPainAgain:         "¿Qué desafíos específicos te impiden alcanzar tus objetivos?",
		TemplateAskBudget:            "¿Cuál es tu presupuesto mensual de marketing para invertir en resolver este desafío?",
		TemplateAskBudgetAgain:       "¿Podrías compartir tu presupuesto mensual aproximado de marketing? (Por favor incluye un número)",
		TemplateBudgetTooLow:         "¡Aprecio tu interés! Trabajamos con negocios que invierten al menos ${threshold}/mes en marketing. No dudes en contactarnos cuando estés listo para invertir en crecimiento.",
		TemplateAskEmail:             "¡Perfecto! ¿Cuál es el mejor correo electrónico para enviarte los detalles de la cita?",
		TemplateAskEmailAgain:        "Por favor proporciona un correo electrónico válido para enviarte los detalles de la cita.",
		TemplateAskDay:               "¿Qué día te funciona mejor para una llamada rápida? Tenemos disponibilidad de martes a viernes.",
		TemplateAskDayAgain:          "Por favor elige un día entre martes y viernes que te funcione mejor.",
		TemplateAskTime:              "¡Excelente! Tengo estos horarios disponibles el {day}: {times}. ¿Cuál te funciona mejor?",
		TemplateAppointmentConfirmed: "¡Perfecto! Tu cita está confirmada para el {day} a las {time}. He enviado los detalles a {email}. ¡Espero hablar contigo pronto!",
		TemplateConversationComplete: "¡Gracias! Si necesitas algo más, no dudes en contactarnos.",
		TemplateProcessingError:      "Ocurrió un error. Por favor intenta de nuevo.",
	},
}

// Renderer maps (template, locale, params) to an outbound message string.
type Renderer struct {
	fallback models.Locale
}

// NewRenderer creates a renderer with the given fallback locale.
func NewRenderer(fallback models.Locale) *Renderer {
	if !fallback.Valid() {
		fallback = models.LocaleEnglish
	}
	return &Renderer{fallback: fallback}
}

// Render looks up the template for a key and locale and substitutes
// {param} placeholders. Unknown locales resolve to the fallback locale.
func (r *Renderer) Render(key TemplateKey, locale models.Locale, params map[string]string) string {
	table, ok := templates[locale]
	if !ok {
		slog.Debug("Renderer falling back to default locale", "requested", locale, "fallback", r.fallback)
		table = templates[r.fallback]
	}
	text, ok := table[key]
	if !ok {
		slog.Error("Renderer missing template", "key", key, "locale", locale)
		return table[TemplateProcessingError]
	}
	for name, value := range params {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text
}
