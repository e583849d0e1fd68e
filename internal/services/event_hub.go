package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/passhub/server/internal/observability"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types
const (
	WSTypePassUpdate  = "pass_update"
	WSTypeError       = "error"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
)

// PassUpdateEvent is emitted once per device for every notification
// outcome of a content update, so operators can watch a fan-out land in
// real time.
type PassUpdateEvent struct {
	PassTypeID      string `json:"passTypeIdentifier"`
	SerialNumber    string `json:"serialNumber"`
	DeviceLibraryID string `json:"deviceLibraryIdentifier"`
	Outcome         string `json:"outcome"`
	Attempts        int    `json:"attempts"`
	Tag             string `json:"lastUpdated"`
}

// EventClient represents a connected WebSocket client
type EventClient struct {
	ID         string
	Topics     map[string]bool
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *EventHub
	mu         sync.Mutex
	closedOnce sync.Once
}

// EventHub fans delivery events out to connected WebSocket clients.
// Clients can subscribe to a pass type identifier as a topic; clients
// with no subscriptions receive everything.
type EventHub struct {
	clients    map[*EventClient]bool
	topics     map[string]map[*EventClient]bool
	register   chan *EventClient
	unregister chan *EventClient
	broadcast  chan *eventBroadcast
	mu         sync.RWMutex
}

type eventBroadcast struct {
	topic   string
	message []byte
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*EventClient]bool),
		topics:     make(map[string]map[*EventClient]bool),
		register:   make(chan *EventClient),
		unregister: make(chan *EventClient),
		broadcast:  make(chan *eventBroadcast, 256),
	}
}

// Run starts the hub's main loop
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.Debugf("Event client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for topic := range client.Topics {
					if topicClients, ok := h.topics[topic]; ok {
						delete(topicClients, client)
						if len(topicClients) == 0 {
							delete(h.topics, topic)
						}
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()
			observability.Debugf("Event client disconnected: %s", client.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// Subscribed clients only get their topics; the rest get
				// the full stream.
				if len(client.Topics) > 0 && !client.Topics[msg.topic] {
					continue
				}
				select {
				case client.Send <- msg.message:
				default:
					// Client buffer full, close connection
					go func(c *EventClient) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *EventHub) Register(client *EventClient) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *EventHub) Unregister(client *EventClient) {
	h.unregister <- client
}

// Subscribe adds a client to a pass type topic
func (h *EventHub) Subscribe(client *EventClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.Topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*EventClient]bool)
	}
	h.topics[topic][client] = true
}

// Unsubscribe removes a client from a pass type topic
func (h *EventHub) Unsubscribe(client *EventClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if topicClients, ok := h.topics[topic]; ok {
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// BroadcastUpdate publishes a delivery outcome under the pass type topic
func (h *EventHub) BroadcastUpdate(event PassUpdateEvent) {
	data, err := json.Marshal(WSMessage{Type: WSTypePassUpdate, Payload: event})
	if err != nil {
		observability.Errorf("Error marshaling event message: %v", err)
		return
	}

	h.broadcast <- &eventBroadcast{
		topic:   event.PassTypeID,
		message: data,
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a new client connected to this hub
func (h *EventHub) NewClient(id string, conn *websocket.Conn) *EventClient {
	return &EventClient{
		ID:     id,
		Topics: make(map[string]bool),
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    h,
	}
}

// Close closes the client connection
func (c *EventClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps messages from the hub to the websocket connection
func (c *EventClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps messages from the websocket connection to the hub
func (c *EventClient) ReadPump(onMessage func(client *EventClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(32 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Errorf("Event socket error: %v", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}
