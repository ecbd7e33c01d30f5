package game

import (
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}

	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}

	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}

	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHub_GetClientCount(t *testing.T) {
	hub := NewHub()

	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	go hub.Run()

	// Give the hub time to start.
	time.Sleep(10 * time.Millisecond)

	// Should not block even with no clients connected.
	hub.Broadcast(Event{Type: EventMultiplierUpdate, Data: MultiplierPayload{Multiplier: 1.23}})

	time.Sleep(10 * time.Millisecond)
}

func TestHub_BroadcastChannelFull(t *testing.T) {
	hub := NewHub()

	// The hub is not running, so the channel fills up.
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast(Event{Type: EventMultiplierUpdate})
	}

	// The next broadcast must drop the message instead of blocking.
	done := make(chan bool, 1)
	go func() {
		hub.Broadcast(Event{Type: EventCrash})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast() blocked on a full channel")
	}
}
