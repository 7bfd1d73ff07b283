package model

import "time"

type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderFailed  ReminderStatus = "failed"
)

func (s ReminderStatus) String() string { return string(s) }

func (s ReminderStatus) Valid() bool {
	return s == ReminderPending || s == ReminderSent || s == ReminderFailed
}

type Channel string

const ChannelWhatsApp Channel = "whatsapp"

// Reminder is a scheduled recall message for a patient.
//
// ClaimToken/ClaimedAt mark a delivery in progress. They are written with a
// conditional update before the provider is called, so two pollers can never
// both send the same reminder; a claim older than the lease is considered
// abandoned and may be taken again (at-least-once).
type Reminder struct {
	ID            string         `db:"id"              json:"id"`
	OwnerID       string         `db:"owner_id"        json:"ownerId"`
	PatientID     string         `db:"patient_id"      json:"patientId"`
	AppointmentID *string        `db:"appointment_id"  json:"appointmentId,omitempty"`
	ServiceID     *string        `db:"service_id"      json:"serviceId,omitempty"`
	PerformedAt   *time.Time     `db:"performed_at"    json:"performedAt,omitempty"`
	DueAt         time.Time      `db:"due_at"          json:"dueAt"`
	Status        ReminderStatus `db:"status"          json:"status"`
	Attempts      int            `db:"attempts"        json:"attempts"`
	LastAttemptAt *time.Time     `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	Channel       Channel        `db:"channel"         json:"channel"`
	MessageText   *string        `db:"message_text"    json:"messageText,omitempty"`
	ClaimToken    *string        `db:"claim_token"     json:"-"`
	ClaimedAt     *time.Time     `db:"claimed_at"      json:"-"`
	CreatedAt     time.Time      `db:"created_at"      json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at"      json:"updatedAt"`
}

// Text returns the stored message body, or "" when none was rendered.
func (r Reminder) Text() string {
	if r.MessageText == nil {
		return ""
	}
	return *r.MessageText
}
