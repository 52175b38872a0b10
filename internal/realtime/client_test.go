package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatsync/internal/events"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestSessionSubscribesAndRepublishesPushes(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotSubs := make(chan subscribeFrame, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		var sub subscribeFrame
		if err := json.Unmarshal(raw, &sub); err != nil {
			t.Errorf("decode subscribe: %v", err)
			return
		}
		gotSubs <- sub

		push, _ := json.Marshal(Envelope{
			Type:    events.EventNewMessage,
			Room:    sub.Room,
			Payload: json.RawMessage(`{"conversation_id":"conv-7","message_id":"m1"}`),
		})
		if err := conn.Write(ctx, websocket.MessageText, push); err != nil {
			t.Errorf("write push: %v", err)
			return
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	bus := events.NewEventBus()
	received := make(chan events.ConversationEventPayload, 1)
	bus.Subscribe(events.EventNewMessage, func(event *events.Event) error {
		payload, err := events.DecodeConversationPayload(event)
		if err != nil {
			return err
		}
		received <- payload
		return nil
	})

	client := NewClient(wsURL(srv), "key-123", "tok-456", bus, testLogger())
	client.JoinRoom(events.ConversationRoom("conv-7"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		close(done)
	}()

	select {
	case auth := <-gotAuth:
		if auth != "Bearer tok-456" {
			t.Fatalf("unexpected auth header %q", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the dial")
	}

	select {
	case sub := <-gotSubs:
		if sub.Op != "subscribe" || sub.Room != "conversation:conv-7" {
			t.Fatalf("unexpected subscribe frame %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe frame never arrived")
	}

	select {
	case payload := <-received:
		if payload.ConversationID != "conv-7" || payload.MessageID != "m1" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push never reached the bus")
	}

	if !client.Connected() {
		t.Fatal("client should report connected during live session")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestDispatchRejectsMalformedFrames(t *testing.T) {
	client := NewClient("ws://unused", "", "", events.NewEventBus(), testLogger())

	if err := client.dispatch([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if err := client.dispatch([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected missing-type error")
	}
	if err := client.dispatch([]byte(`{"type":"typing","payload":{"conversation_id":"c1"}}`)); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
}

func TestRoomBookkeeping(t *testing.T) {
	client := NewClient("ws://unused", "", "", events.NewEventBus(), testLogger())
	client.JoinRoom("user:u1")
	client.JoinRoom("user:u1:sector:s1")
	client.LeaveRoom("user:u1")

	client.mu.RLock()
	defer client.mu.RUnlock()
	if _, ok := client.rooms["user:u1"]; ok {
		t.Fatal("left room still registered")
	}
	if _, ok := client.rooms["user:u1:sector:s1"]; !ok {
		t.Fatal("joined room missing")
	}
}

func TestSetBackoffBounds(t *testing.T) {
	client := NewClient("ws://unused", "", "", events.NewEventBus(), testLogger())
	if client.reconnectMin != defaultReconnectMin || client.reconnectMax != defaultReconnectMax {
		t.Fatalf("unexpected defaults: min=%s max=%s", client.reconnectMin, client.reconnectMax)
	}

	client.SetBackoff(2*time.Second, 5*time.Minute)
	if client.reconnectMin != 2*time.Second || client.reconnectMax != 5*time.Minute {
		t.Fatalf("backoff not applied: min=%s max=%s", client.reconnectMin, client.reconnectMax)
	}

	client.SetBackoff(0, 0)
	if client.reconnectMin != 2*time.Second || client.reconnectMax != 5*time.Minute {
		t.Fatalf("zero values must keep current bounds: min=%s max=%s", client.reconnectMin, client.reconnectMax)
	}

	client.SetBackoff(10*time.Second, time.Second)
	if client.reconnectMax != client.reconnectMin {
		t.Fatalf("max below min must clamp, got min=%s max=%s", client.reconnectMin, client.reconnectMax)
	}
}
