package model

import "time"

// StatusEvent is published to Kafka whenever a message log changes status,
// either on a delivery attempt or on a provider callback.
type StatusEvent struct {
	LogID             string        `json:"log_id"            ch:"log_id"`
	OwnerID           string        `json:"owner_id"          ch:"owner_id"`
	ReminderID        string        `json:"reminder_id"       ch:"reminder_id"`
	ToPhone           string        `json:"to_phone"          ch:"to_phone"`
	ProviderMessageID string        `json:"provider_id"       ch:"provider_message_id"`
	Status            MessageStatus `json:"status"            ch:"status"`
	Error             string        `json:"error,omitempty"   ch:"error"`
	Source            string        `json:"source"            ch:"source"` // send|webhook
	OccurredAt        time.Time     `json:"occurred_at"       ch:"occurred_at"`
}

const (
	EventSourceSend    = "send"
	EventSourceWebhook = "webhook"
)
