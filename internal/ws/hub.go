// Package ws pushes entity-change events to connected browser sessions over
// WebSocket so open schedules and client lists stay current.
package ws

import (
	"encoding/json"
	"log"
)

// Event tells a connected client that an entity changed.
type Event struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

type envelope struct {
	therapistID string
	payload     []byte
}

// Hub routes events to the connections of the owning therapist. Clinical data
// never fans out across practice boundaries.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run owns the client set. Start it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.therapistID != msg.therapistID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer; drop the connection rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// Notify broadcasts an entity change to the therapist's open sessions.
func (h *Hub) Notify(therapistID, entity, id, action string) {
	payload, err := json.Marshal(Event{Entity: entity, ID: id, Action: action})
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- envelope{therapistID: therapistID, payload: payload}:
	case <-h.done:
	}
}
