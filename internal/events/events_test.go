package events

import (
	"encoding/json"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventNewMessage, handler)

	payload := ConversationEventPayload{ConversationID: "c1", MessageID: "m1"}
	err := bus.PublishJSON(EventNewMessage, payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventNewMessage {
		t.Errorf("expected type %s, got %s", EventNewMessage, received.Type)
	}

	var decoded ConversationEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded.ConversationID != "c1" {
		t.Errorf("expected conversation_id=c1, got %s", decoded.ConversationID)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestDecodeConversationPayload(t *testing.T) {
	raw, _ := json.Marshal(ConversationEventPayload{ConversationID: "c9", Status: "em_andamento"})
	payload, err := DecodeConversationPayload(&Event{Type: EventConversationUpdated, Payload: raw})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ConversationID != "c9" || payload.Status != "em_andamento" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if _, err := DecodeConversationPayload(&Event{Payload: []byte("not json")}); err == nil {
		t.Errorf("expected error for invalid payload")
	}
}

func TestRoomKeys(t *testing.T) {
	if got := UserRoom("u1"); got != "user:u1" {
		t.Errorf("unexpected user room: %s", got)
	}
	if got := UserSectorRoom("u1", "s2"); got != "user:u1:sector:s2" {
		t.Errorf("unexpected user sector room: %s", got)
	}
	if got := ConversationRoom("c3"); got != "conversation:c3" {
		t.Errorf("unexpected conversation room: %s", got)
	}
}
