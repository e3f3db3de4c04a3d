package ghl

// Logical custom-field names for the booking conversation. GoHighLevel
// addresses custom fields by opaque IDs; FieldIDs maps the logical names to
// the IDs configured in the location.
const (
	FieldBookingStep         = "booking_step"
	FieldLanguage            = "language"
	FieldVersion             = "conversation_version"
	FieldLastMessageID       = "last_message_id"
	FieldLastReply           = "last_reply"
	FieldStatus              = "booking_status"
	FieldCustomerName        = "customer_name"
	FieldCustomerGoal        = "customer_goal"
	FieldCustomerPainPoint   = "customer_pain_point"
	FieldCustomerBudget      = "customer_budget"
	FieldCustomerEmail       = "customer_email"
	FieldPreferredDay        = "preferred_day"
	FieldPreferredTime       = "preferred_time"
	FieldAppointmentID       = "appointment_id"
	FieldConversationStarted = "conversation_started"
	FieldLastInteraction     = "last_interaction"
)

// FieldIDs maps logical field names to GoHighLevel custom-field IDs.
// Fields without a provisioned ID yet use the logical name as a placeholder
// until the location admin creates them.
var FieldIDs = map[string]string{
	FieldPreferredDay:      "D1aD9KUDNm5Lp4Kz8yAD",
	FieldPreferredTime:     "M70lUtadchW4f2pJGDJ5",
	FieldCustomerGoal:      "r7jFiJBYHiEllsGn7jZC",
	FieldCustomerBudget:    "4Qe8P25JRLW0IcZc5iOs",
	FieldCustomerName:      "TjB0I5iNfVwx3zyxZ9sW",

	FieldBookingStep:         FieldBookingStep,
	FieldLanguage:            FieldLanguage,
	FieldVersion:             FieldVersion,
	FieldLastMessageID:       FieldLastMessageID,
	FieldLastReply:           FieldLastReply,
	FieldStatus:              FieldStatus,
	FieldCustomerPainPoint:   FieldCustomerPainPoint,
	FieldCustomerEmail:       FieldCustomerEmail,
	FieldAppointmentID:       FieldAppointmentID,
	FieldConversationStarted: FieldConversationStarted,
	FieldLastInteraction:     FieldLastInteraction,
}

// logicalNameByID is the reverse of FieldIDs, built once at init.
var logicalNameByID = func() map[string]string {
	m := make(map[string]string, len(FieldIDs))
	for name, id := range FieldIDs {
		m[id] = name
	}
	return m
}()
