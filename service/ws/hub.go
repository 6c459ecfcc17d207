package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const sendBuffer = 64

// Event is the envelope written to websocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks the open connections of every user. A user may hold several
// connections (tabs, devices) and each receives every event.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*Client]struct{}
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uint]map[*Client]struct{}),
		log:     logger.With().Str("component", "ws").Logger(),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c and closes its send channel. It is safe to call twice.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Publish sends an event to every connection of userID. Clients whose buffer
// is full are disconnected rather than blocking the caller.
func (h *Hub) Publish(userID uint, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("encode event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Uint("user_id", userID).Msg("dropping slow websocket client")
		h.unregister(c)
	}
}

func (h *Hub) Connected(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}
