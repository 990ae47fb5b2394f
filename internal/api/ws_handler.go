package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/mailsync"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint. An open socket is an active session:
// it keeps the user's periodic sync and INBOX watcher running and receives invalidation
// events.
type WebSocketHandler struct {
	pool     *pgxpool.Pool
	hub      *ws.Hub
	sessions *mailsync.SessionManager
	log      zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(pool *pgxpool.Pool, hub *ws.Hub, sessions *mailsync.SessionManager, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		pool:     pool,
		hub:      hub,
		sessions: sessions,
		log:      logger.With().Str("handler", "ws").Logger(),
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server runs behind a reverse proxy that enforces origins.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Browsers cannot set headers on WebSocket requests, so the token comes from ?token=,
// with the Authorization header as a fallback.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
			token = strings.TrimSpace(strings.Join(fields[1:], " "))
		}
	}
	if token == "" {
		h.log.Debug().Msg("No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("Token validation failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := db.GetOrCreateUser(ctx, h.pool, userEmail)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get/create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("user_id", userID).Msg("Failed to upgrade connection")
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		return
	}

	h.sessions.Activate(userID)
	h.log.Debug().Str("user_id", userID).Int("connections", h.hub.ActiveConnections(userID)).Msg("WebSocket connected")

	go h.readLoop(userID, client)
}

// readLoop reads until the connection closes, then ends the session.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
	h.sessions.Deactivate(userID)
	h.log.Debug().Str("user_id", userID).Msg("WebSocket disconnected")
}
