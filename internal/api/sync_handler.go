package api

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
)

// SyncHandler triggers syncs and reports sync state.
type SyncHandler struct {
	pool     *pgxpool.Pool
	store    mailsync.Store
	sessions *mailsync.SessionManager
	log      zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(pool *pgxpool.Pool, store mailsync.Store, sessions *mailsync.SessionManager, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		pool:     pool,
		store:    store,
		sessions: sessions,
		log:      logger.With().Str("handler", "sync").Logger(),
	}
}

type syncStatusResponse struct {
	Configured  bool               `json:"configured"`
	SyncEnabled bool               `json:"sync_enabled"`
	State       mailsync.SyncState `json:"state"`
	LastSyncAt  *time.Time         `json:"last_sync_at"`
	LastError   *string            `json:"last_error"`
}

// PostSync runs a manual sync and returns its outcome. A request made while a sync is
// running gets 409 and is not queued.
func (h *SyncHandler) PostSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	outcome, err := h.sessions.Scheduler(userID).SyncNow(ctx)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, outcome, h.log)
}

// GetStatus returns the stored sync state together with whether a sync is running now.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	state, err := h.store.GetSyncState(ctx, userID)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, syncStatusResponse{
		Configured:  state.Configured,
		SyncEnabled: state.SyncEnabled,
		State:       h.sessions.Scheduler(userID).State(),
		LastSyncAt:  state.LastSyncAt,
		LastError:   state.LastError,
	}, h.log)
}
