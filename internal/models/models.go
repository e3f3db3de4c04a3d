// Package models defines the core data structures for bookingflow.
//
// It includes the per-contact conversation state, the inbound message event,
// and shared enum types used across modules.
package models

import (
	"errors"
	"time"
)

// Step identifies a position in the booking conversation flow.
type Step string

const (
	// StepGreeting is the entry step: detect language and greet.
	StepGreeting Step = "greeting"
	// StepName collects the customer's name.
	StepName Step = "name"
	// StepGoal collects the business goal.
	StepGoal Step = "goal"
	// StepPain collects the pain point.
	StepPain Step = "pain"
	// StepBudget collects and qualifies the monthly budget.
	StepBudget Step = "budget"
	// StepEmail collects the contact email.
	StepEmail Step = "email"
	// StepDay collects the preferred business day.
	StepDay Step = "day"
	// StepTime collects the time slot and books the appointment.
	StepTime Step = "time"
	// StepScheduled is the terminal step after a successful booking.
	StepScheduled Step = "scheduled"
	// StepDisqualified is the terminal step for below-threshold budgets.
	StepDisqualified Step = "disqualified"
)

// Valid reports whether s is a defined flow step.
func (s Step) Valid() bool {
	switch s {
	case StepGreeting, StepName, StepGoal, StepPain, StepBudget,
		StepEmail, StepDay, StepTime, StepScheduled, StepDisqualified:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends the conversation.
func (s Step) Terminal() bool {
	return s == StepScheduled || s == StepDisqualified
}

// Locale identifies a supported conversation language.
type Locale string

const (
	LocaleEnglish Locale = "en"
	LocaleSpanish Locale = "es"
)

// Valid reports whether l is a supported locale.
func (l Locale) Valid() bool {
	return l == LocaleEnglish || l == LocaleSpanish
}

// ConversationStatus describes the lifecycle of a conversation.
type ConversationStatus string

const (
	// StatusActive means the contact is still moving through the flow.
	StatusActive ConversationStatus = "active"
	// StatusScheduled means an appointment was booked (terminal).
	StatusScheduled ConversationStatus = "scheduled"
	// StatusDisqualified means the contact did not qualify (terminal).
	StatusDisqualified ConversationStatus = "disqualified"
)

// Terminal reports whether the status forbids further state mutation.
func (s ConversationStatus) Terminal() bool {
	return s == StatusScheduled || s == StatusDisqualified
}

// FieldKey names a collected conversation field.
type FieldKey string

const (
	FieldName      FieldKey = "name"
	FieldGoal      FieldKey = "goal"
	FieldPainPoint FieldKey = "painPoint"
	FieldBudget    FieldKey = "budget"
	FieldEmail     FieldKey = "email"
	FieldDay       FieldKey = "day"
	FieldTime      FieldKey = "time"
)

// Validation constants for collected fields.
const (
	// MaxNameLength defines the maximum accepted customer name length.
	MaxNameLength = 100
	// MaxGoalLength defines the maximum accepted business goal length.
	MaxGoalLength = 50
)

// Error variables for better error handling and testability.
var (
	ErrEmptyContactID = errors.New("contact ID cannot be empty")
	ErrEmptyText      = errors.New("message text cannot be empty")
	ErrEmptyMessageID = errors.New("message ID cannot be empty")
)

// InboundMessage is a single inbound webhook event from a contact.
type InboundMessage struct {
	ContactID string    `json:"contact_id"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate performs basic validation on an inbound message.
func (m *InboundMessage) Validate() error {
	if m.ContactID == "" {
		return ErrEmptyContactID
	}
	if m.Text == "" {
		return ErrEmptyText
	}
	if m.MessageID == "" {
		return ErrEmptyMessageID
	}
	return nil
}

// ConversationState is the full persisted state of one contact's
// conversation. It is the only data that crosses request boundaries; the
// transition engine never keeps in-process memory between messages.
type ConversationState struct {
	ContactID     string               `json:"contact_id"`
	Step          Step                 `json:"step"`
	Locale        Locale               `json:"locale"`
	Fields        map[FieldKey]string  `json:"fields,omitempty"`
	Version       int64                `json:"version"`
	LastMessageID string               `json:"last_message_id,omitempty"`
	LastReply     string               `json:"last_reply,omitempty"`
	Status        ConversationStatus   `json:"status"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewConversationState creates the default state for a first-contact message.
func NewConversationState(contactID string) ConversationState {
	now := time.Now()
	return ConversationState{
		ContactID: contactID,
		Step:      StepGreeting,
		Fields:    make(map[FieldKey]string),
		Version:   0,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so the pure transition engine can produce a next
// state without mutating the loaded one.
func (s ConversationState) Clone() ConversationState {
	next := s
	next.Fields = make(map[FieldKey]string, len(s.Fields))
	for k, v := range s.Fields {
		next.Fields[k] = v
	}
	return next
}
