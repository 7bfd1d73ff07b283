package model

import (
	"strings"
	"time"
)

type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// ParseMessageStatus maps the many spellings providers use for delivery
// states onto MessageStatus. ok is false when the value is not recognized.
func ParseMessageStatus(raw string) (MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "queue", "pending", "accepted", "enqueued", "0":
		return StatusQueued, true
	case "sent", "submitted", "server", "server_ack", "ack", "message.sent", "1":
		return StatusSent, true
	case "delivered", "delivery_ack", "device", "message.delivered", "2":
		return StatusDelivered, true
	case "read", "seen", "viewed", "played", "message.read", "3", "4":
		return StatusRead, true
	case "failed", "failure", "error", "undelivered", "rejected", "expired", "message.failed", "-1":
		return StatusFailed, true
	}
	return "", false
}

// MessageLog is one delivery attempt of a reminder and its provider-reported status.
type MessageLog struct {
	ID                string        `db:"id"                  json:"id"`
	OwnerID           string        `db:"owner_id"            json:"ownerId"`
	ReminderID        string        `db:"reminder_id"         json:"reminderId"`
	ToPhone           string        `db:"to_phone"            json:"toPhone"`
	Content           string        `db:"content"             json:"content"`
	ProviderMessageID *string       `db:"provider_message_id" json:"providerMessageId,omitempty"`
	Status            MessageStatus `db:"status"              json:"status"`
	Error             *string       `db:"error"               json:"error,omitempty"`
	SentAt            *time.Time    `db:"sent_at"             json:"sentAt,omitempty"`
	CreatedAt         time.Time     `db:"created_at"          json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at"          json:"updatedAt"`
}
