package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Hub maintains the set of connected dashboard clients and fans assignment
// events out to them. It implements store.Publisher, so every status
// transition in the assignment store reaches subscribers without the store
// knowing about WebSockets.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound events to fan out
	broadcast chan types.AssignmentEvent

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan types.AssignmentEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "events").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.broadcastFiltered(event)
		}
	}
}

// Publish queues an assignment event for fan-out. Non-blocking: if the hub
// is saturated the event is dropped rather than stalling the store.
func (h *Hub) Publish(event types.AssignmentEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().
			Str("assignment_id", event.Assignment.ID).
			Msg("event broadcast buffer full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastFiltered sends an event to each client subscribed to its tenant
func (h *Hub) broadcastFiltered(event types.AssignmentEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal assignment event")
		return
	}

	// Removals mutate the client map, so take the write lock for the pass
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}
