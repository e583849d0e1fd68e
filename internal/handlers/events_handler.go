package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/passhub/server/internal/observability"
	"github.com/passhub/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - can be restricted in production
		return true
	},
}

// EventsHandler streams pass delivery events over WebSocket
type EventsHandler struct {
	hub *services.EventHub
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(hub *services.EventHub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection.
// A client may subscribe to one or more pass type identifiers; without a
// subscription it receives every event.
func (h *EventsHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)

	// An initial topic can come in on the query string.
	if topic := r.URL.Query().Get("passTypeIdentifier"); topic != "" {
		h.hub.Subscribe(client, topic)
	}

	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *EventsHandler) handleMessage(client *services.EventClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		observability.Debugf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic := messageTopic(msg.Payload); topic != "" {
			h.hub.Subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic := messageTopic(msg.Payload); topic != "" {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		response := services.WSMessage{Type: services.WSTypePong}
		if data, err := json.Marshal(response); err == nil {
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

// messageTopic accepts either a bare string payload or {"topic": "..."}.
func messageTopic(payload interface{}) string {
	if topic, ok := payload.(string); ok {
		return topic
	}
	if m, ok := payload.(map[string]interface{}); ok {
		if topic, ok := m["topic"].(string); ok {
			return topic
		}
	}
	return ""
}
