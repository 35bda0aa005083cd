package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/models"
)

func newTestClient(userID string) *Client {
	return &Client{
		send:     make(chan []byte, sendBufferSize),
		identity: models.Identity{UserID: userID, Name: userID},
	}
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.send:
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected payload: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoomFanout(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	a := newTestClient("user-a")
	b := newTestClient("user-b")
	c := newTestClient("user-c")
	for _, cl := range []*Client{a, b, c} {
		cl.hub = hub
		hub.register <- cl
	}

	room := OrderRoom("order-1")
	hub.join <- subscription{client: a, room: room}
	hub.join <- subscription{client: b, room: room}

	hub.Publish(room, Event{Type: EventChatNew, Data: map[string]string{"body": "hi"}})

	for _, cl := range []*Client{a, b} {
		ev := recvEvent(t, cl)
		if ev.Type != EventChatNew {
			t.Errorf("got %s, want chat:new", ev.Type)
		}
	}
	// c never joined the room
	assertSilent(t, c)
}

func TestHubUserRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	a := newTestClient("user-a")
	a.hub = hub
	hub.register <- a

	// every connection listens on its inbox without an explicit join
	hub.Publish(UserRoom("user-a"), Event{Type: EventThreadUpdated, Data: ThreadUpdatedPayload{OrderID: "o1"}})

	ev := recvEvent(t, a)
	if ev.Type != EventThreadUpdated {
		t.Errorf("got %s, want thread:updated", ev.Type)
	}
}

func TestHubLeave(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	a := newTestClient("user-a")
	a.hub = hub
	hub.register <- a

	room := ListingRoom("listing-1")
	hub.join <- subscription{client: a, room: room}
	hub.Publish(room, Event{Type: EventDealUpdated, Data: DealUpdatedPayload{ListingID: "listing-1", Stock: 4}})
	if ev := recvEvent(t, a); ev.Type != EventDealUpdated {
		t.Fatalf("got %s, want deal:updated", ev.Type)
	}

	hub.leave <- subscription{client: a, room: room}
	hub.Publish(room, Event{Type: EventDealUpdated, Data: DealUpdatedPayload{ListingID: "listing-1", Stock: 3}})
	assertSilent(t, a)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	a := newTestClient("user-a")
	a.hub = hub
	hub.register <- a
	hub.unregister <- a

	select {
	case _, ok := <-a.send:
		if ok {
			t.Fatal("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on unregister")
	}

	// publishing to the dead user's inbox must not panic
	hub.Publish(UserRoom("user-a"), Event{Type: EventThreadUpdated, Data: ThreadUpdatedPayload{OrderID: "o1"}})
	time.Sleep(20 * time.Millisecond)
}
