package ws

import (
	"encoding/json"
	"sync"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
)

// Hub tracks every live client keyed by connection ID and delivers
// outbound envelopes to them. It implements broadcast.Notifier.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	log        *logger.Logger
	mu         sync.RWMutex
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run processes registrations until the channel producers stop. Call in
// a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connectionID] = client
			h.mu.Unlock()
			h.log.Debug("Client registered",
				"connection_id", client.connectionID,
				"session_id", client.sessionID,
				"role", string(client.role),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.connectionID]; ok && current == client {
				delete(h.clients, client.connectionID)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("Client unregistered", "connection_id", client.connectionID)
		}
	}
}

// Send enqueues one envelope for a connection. Returns false when the
// connection is gone or its send queue is full; the frame is dropped,
// never queued elsewhere.
func (h *Hub) Send(connectionID string, env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}

	// the lock is held across the channel send: unregistration closes
	// client.send under the write lock, so a registered client's channel
	// cannot close mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return false
	}

	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// GetActiveConnections returns the IDs of every live connection
func (h *Hub) GetActiveConnections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// CloseSession shuts down every live connection of a session
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	var clients []*Client
	for _, c := range h.clients {
		if c.sessionID == sessionID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.requestClose()
	}
}

// CloseConnection asks a connection's write pump to shut the socket
// down; used for rate-limit disconnects and session teardown
func (h *Hub) CloseConnection(connectionID string) {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if ok {
		client.requestClose()
	}
}
