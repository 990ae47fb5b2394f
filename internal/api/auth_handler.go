package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

type AuthHandler struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewAuthHandler(pool *pgxpool.Pool, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{pool: pool, log: logger.With().Str("handler", "auth").Logger()}
}

func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		h.log.Warn().Msg("No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	isSetupComplete, err := h.checkSetupComplete(ctx, email)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check setup status")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, models.AuthStatusResponse{
		IsAuthenticated: true,
		IsSetupComplete: isSetupComplete,
	}, h.log)
}

func (h *AuthHandler) checkSetupComplete(ctx context.Context, email string) (bool, error) {
	userID, err := db.GetOrCreateUser(ctx, h.pool, email)
	if err != nil {
		return false, err
	}

	return db.AccountSettingsExist(ctx, h.pool, userID)
}
