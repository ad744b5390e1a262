package events

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS middleware in front
		return true
	},
}

// Handler handles WebSocket upgrade requests on /ws. Clients may scope their
// subscription with ?companyId=.
type Handler struct {
	hub    *Hub
	config *config.Config
	logger zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		config: cfg,
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, r.URL.Query().Get("companyId"))

	h.hub.register <- client
	client.Start()
}
