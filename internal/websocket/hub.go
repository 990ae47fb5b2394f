package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
)

const writeWait = 10 * time.Second

// Event is the message pushed to clients. Type "invalidate" tells the client to re-fetch
// the read model named by Kind.
type Event struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
}

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per user.
// It supports multiple connections per user (e.g., multiple tabs).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
	log        zerolog.Logger
}

var _ mailsync.Notifier = (*Hub)(nil)

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int, logger zerolog.Logger) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
		log:        logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a WebSocket connection for the given user.
// If the per-user limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		h.log.Warn().Str("user_id", userID).Int("max", h.maxPerUser).Msg("Too many connections, closing new one")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given user and closes the connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for the user. Clients that fail the
// write are dropped.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID).Msg("Dropping client after failed write")
			h.Unregister(userID, client)
		}
	}
}

// Invalidate pushes an invalidate event for the read model kind to the user's clients.
func (h *Hub) Invalidate(userID, kind string) {
	msg, err := json.Marshal(Event{Type: "invalidate", Kind: kind})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	h.Send(userID, msg)
}

// ActiveConnections returns the number of active WebSocket connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, userClients := range clients {
		for client := range userClients {
			_ = client.conn.Close()
		}
	}
}
