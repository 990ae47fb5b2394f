package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
)

// SettingsHandler handles account settings requests.
type SettingsHandler struct {
	pool     *pgxpool.Pool
	accounts *mailsync.Accounts
	prober   *mailsync.Prober
	log      zerolog.Logger
}

// NewSettingsHandler creates a new SettingsHandler instance.
func NewSettingsHandler(pool *pgxpool.Pool, accounts *mailsync.Accounts, prober *mailsync.Prober, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		pool:     pool,
		accounts: accounts,
		prober:   prober,
		log:      logger.With().Str("handler", "settings").Logger(),
	}
}

// GetSettings returns the account settings of the current user, without the secret.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	settings, err := h.accounts.GetSettings(ctx, userID)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, settings, h.log)
}

// PostSettings saves or updates the account settings of the current user. The secret may
// be left empty to keep the stored one.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	var req models.AccountSettingsRequest
	if !decodeJSON(w, r, &req, h.log) {
		return
	}

	settings, err := h.accounts.SaveSettings(ctx, userID, &req)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, settings, h.log)
}

// TestSettings checks the posted settings against the mail server without saving them.
func (h *SettingsHandler) TestSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	var req models.AccountSettingsRequest
	if !decodeJSON(w, r, &req, h.log) {
		return
	}

	draft, err := h.accounts.Draft(ctx, userID, &req)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	if err := h.prober.TestConnection(ctx, draft); err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "connection successful"}, h.log)
}
