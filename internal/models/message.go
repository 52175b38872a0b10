package models

import "time"

// Message senders.
const (
	SenderClient    = "client"
	SenderAttendant = "attendant"
	SenderBot       = "bot"
	SenderSystem    = "system"
)

// Delivery statuses for optimistic local messages. A message starts in
// "sending" and transitions exactly once to "sent" or "failed".
const (
	DeliverySending = "sending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Message is one chat message inside a conversation.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`
	DeliveryStatus string    `json:"deliveryStatus,omitempty"`
}

// IsTerminal reports whether the delivery status can no longer change.
func (m *Message) IsTerminal() bool {
	return m.DeliveryStatus == DeliverySent || m.DeliveryStatus == DeliveryFailed
}
