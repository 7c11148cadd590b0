package websocket

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound messages for every client.
	Broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	done chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns when ctx is done,
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID).Int("total_clients", len(h.clients)).Msg("Audit feed subscriber connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Info().Str("client_id", client.ID).Int("total_clients", len(h.clients)).Msg("Audit feed subscriber disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer.
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Publish encodes a message and queues it for broadcast. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Publish(action string, payload interface{}) {
	data, err := json.Marshal(Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to encode websocket message")
		return
	}
	select {
	case h.Broadcast <- data:
	default:
		log.Warn().Str("action", action).Msg("Websocket broadcast queue full, dropping message")
	}
}

// Subscribe adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Subscribe(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
