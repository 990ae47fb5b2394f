package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/mailsync"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, pool *pgxpool.Pool, log zerolog.Logger) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Warn().Msg("No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := db.GetOrCreateUser(ctx, pool, email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get/create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// ParseLimitParam parses the limit query parameter, returning defaultLimit when it is
// missing or invalid.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}

// decodeJSON reads a JSON body into v. It writes a 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, log zerolog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to decode request")
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: "invalid request body"}, log)
		return false
	}
	return true
}

// writeJSON encodes to a buffer first so a failed encoding never leaves a partial body.
func writeJSON(w http.ResponseWriter, status int, v any, log zerolog.Logger) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// statusResponse is the body of every error and of operations without a payload.
type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// writeError maps an engine error to its HTTP status and writes {success:false, message}.
func writeError(w http.ResponseWriter, err error, log zerolog.Logger) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, statusResponse{Success: false, Message: mailsync.Reason(err)}, log)
}

func errorStatus(err error) int {
	var (
		validationErr *mailsync.ValidationError
		connErr       *mailsync.ConnectionError
		partialErr    *mailsync.PartialFailureError
	)
	switch {
	case errors.Is(err, mailsync.ErrNotConfigured), errors.Is(err, mailsync.ErrSyncInProgress):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, mailsync.ErrMessageNotFound), errors.Is(err, mailsync.ErrAttachmentNotFound):
		return http.StatusNotFound
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	case errors.As(err, &partialErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
