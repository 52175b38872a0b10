package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	EventNewMessage          = "message.new"
	EventConversationUpdated = "conversation.updated"
	EventTyping              = "typing"
	EventConnectionChanged   = "connection.changed"
	EventSyncFailed          = "sync.failed"
)

// ConversationEventPayload is the minimal payload carried by realtime
// conversation events; the conversation id decides reconciler relevance.
type ConversationEventPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	OccurredAt     time.Time `json:"occurred_at,omitempty"`
}

// SyncFailedPayload announces a sync operation that exhausted its
// retries and was dead-lettered.
type SyncFailedPayload struct {
	TaskID   int64  `json:"task_id"`
	TaskType string `json:"task_type"`
	EntityID string `json:"entity_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Room keys for the realtime channel subscription model.
func UserRoom(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func UserSectorRoom(userID, sectorID string) string {
	return fmt.Sprintf("user:%s:sector:%s", userID, sectorID)
}

func ConversationRoom(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// DecodeConversationPayload parses a conversation event payload.
func DecodeConversationPayload(event *Event) (ConversationEventPayload, error) {
	var payload ConversationEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode conversation event: %w", err)
	}
	return payload, nil
}
