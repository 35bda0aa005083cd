package ws

import (
	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/metrics"
)

// Hub is the room router. A single goroutine owns all membership state, so
// the maps need no locking; every interaction goes through the channels.
type Hub struct {
	// room name -> members
	rooms map[string]map[*Client]bool
	// reverse index for cleanup on unregister
	memberships map[*Client]map[string]bool

	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription
	outbound   chan publication

	log zerolog.Logger
}

type subscription struct {
	client *Client
	room   string
}

type publication struct {
	room    string
	payload []byte
}

// NewHub creates the room router. Call Run in its own goroutine.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		memberships: make(map[*Client]map[string]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		join:        make(chan subscription),
		leave:       make(chan subscription),
		outbound:    make(chan publication, 256),
		log:         log.With().Str("component", "hub").Logger(),
	}
}

// Publish fans an event out to every connection currently joined to room.
// Fire-and-forget: members not joined at publish time never receive it and
// must observe the effect through a later history or state reload.
func (h *Hub) Publish(room string, ev Event) {
	payload, err := ev.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("event encode failed")
		return
	}
	metrics.WSEventsPublished.WithLabelValues(string(ev.Type)).Inc()
	h.outbound <- publication{room: room, payload: payload}
}

// Run is the hub's event loop. It is the only goroutine that touches the
// membership maps.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.memberships[client] = make(map[string]bool)
			metrics.WSConnections.Inc()
			// every connection listens on its personal inbox room
			h.addToRoom(client, UserRoom(client.identity.UserID))

		case client := <-h.unregister:
			if rooms, ok := h.memberships[client]; ok {
				for room := range rooms {
					h.removeFromRoom(client, room)
				}
				delete(h.memberships, client)
				close(client.send)
				metrics.WSConnections.Dec()
			}

		case sub := <-h.join:
			if _, ok := h.memberships[sub.client]; ok {
				h.addToRoom(sub.client, sub.room)
			}

		case sub := <-h.leave:
			if _, ok := h.memberships[sub.client]; ok {
				h.removeFromRoom(sub.client, sub.room)
			}

		case pub := <-h.outbound:
			for client := range h.rooms[pub.room] {
				select {
				case client.send <- pub.payload:
				default:
					// Slow consumer: drop the connection rather than
					// block the fan-out.
					metrics.WSDroppedClients.Inc()
					for room := range h.memberships[client] {
						h.removeFromRoom(client, room)
					}
					delete(h.memberships, client)
					close(client.send)
					metrics.WSConnections.Dec()
				}
			}
		}
	}
}

func (h *Hub) addToRoom(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
	h.memberships[c][room] = true
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberships[c]; ok {
		delete(rooms, room)
	}
}
