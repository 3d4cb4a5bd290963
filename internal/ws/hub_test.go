package ws

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestSubscriptionFilter tests per-client event filtering
func TestSubscriptionFilter(t *testing.T) {
	h := NewHub(zap.NewNop())
	event := Event{Type: EventTypeHighlights, SessionID: "session-1", Timestamp: time.Now()}

	t.Run("NoSubscriptionReceivesAll", func(t *testing.T) {
		client := &Client{ID: "c1"}
		if !h.shouldSendToClient(client, event) {
			t.Error("Client without subscription should receive everything")
		}
	})

	t.Run("EmptyEventListReceivesAll", func(t *testing.T) {
		client := &Client{ID: "c1", Subscription: &SubscriptionRequest{}}
		if !h.shouldSendToClient(client, event) {
			t.Error("Empty event filter should receive everything")
		}
	})

	t.Run("EventTypeFilter", func(t *testing.T) {
		client := &Client{ID: "c1", Subscription: &SubscriptionRequest{
			Events: []EventType{EventTypeFeedback},
		}}
		if h.shouldSendToClient(client, event) {
			t.Error("Client filtered to feedback events received a highlights event")
		}
		if !h.shouldSendToClient(client, Event{Type: EventTypeFeedback}) {
			t.Error("Client did not receive its subscribed event type")
		}
	})

	t.Run("SessionFilter", func(t *testing.T) {
		client := &Client{ID: "c1", Subscription: &SubscriptionRequest{
			Sessions: []string{"session-2"},
		}}
		if h.shouldSendToClient(client, event) {
			t.Error("Client filtered to session-2 received a session-1 event")
		}
		if !h.shouldSendToClient(client, Event{Type: EventTypeHighlights, SessionID: "session-2"}) {
			t.Error("Client did not receive its subscribed session's event")
		}
		// Events without a session pass the session filter
		if !h.shouldSendToClient(client, Event{Type: EventTypeConnection}) {
			t.Error("Sessionless event was filtered out")
		}
	})
}

// TestHubBroadcast tests client registration and event delivery
func TestHubBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop())

	client := &Client{ID: "c1", Send: make(chan Event, 4)}
	h.registerClient(client)

	stats := h.GetStats()
	if stats.ActiveConnections != 1 || stats.TotalConnections != 1 {
		t.Fatalf("Stats after register = %+v", stats)
	}

	h.broadcastEvent(Event{Type: EventTypeHighlights, SessionID: "s"})
	select {
	case got := <-client.Send:
		if got.Type != EventTypeHighlights {
			t.Errorf("Delivered event type = %s", got.Type)
		}
	default:
		t.Fatal("Event not delivered to registered client")
	}

	// A client with a full send buffer is dropped, not blocked on
	slow := &Client{ID: "c2", Send: make(chan Event)}
	h.registerClient(slow)
	h.broadcastEvent(Event{Type: EventTypeHighlights})
	if h.GetStats().ActiveConnections != 1 {
		t.Error("Slow client was not dropped")
	}

	h.unregisterClient(client)
	if h.GetStats().ActiveConnections != 0 {
		t.Error("Unregister did not decrement active connections")
	}
}
