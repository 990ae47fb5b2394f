package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
)

// AccountHandler exposes the recovery operations.
type AccountHandler struct {
	pool     *pgxpool.Pool
	resetter *mailsync.Resetter
	log      zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler instance.
func NewAccountHandler(pool *pgxpool.Pool, resetter *mailsync.Resetter, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		pool:     pool,
		resetter: resetter,
		log:      logger.With().Str("handler", "account").Logger(),
	}
}

// PostCleanup deletes the cached folders of the current user.
func (h *AccountHandler) PostCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	if err := h.resetter.CleanupFolders(ctx, userID); err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "folders cleaned up"}, h.log)
}

// PostReset returns the current user's account to the unconfigured state.
func (h *AccountHandler) PostReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	if err := h.resetter.ResetAccount(ctx, userID); err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "account reset"}, h.log)
}
