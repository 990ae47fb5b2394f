package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
)

// MessagesHandler serves cached messages and attachment downloads.
type MessagesHandler struct {
	pool      *pgxpool.Pool
	retriever *mailsync.Retriever
	log       zerolog.Logger
}

// NewMessagesHandler creates a new MessagesHandler instance.
func NewMessagesHandler(pool *pgxpool.Pool, retriever *mailsync.Retriever, logger zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{
		pool:      pool,
		retriever: retriever,
		log:       logger.With().Str("handler", "messages").Logger(),
	}
}

// GetMessages lists the newest messages of ?folder=, without bodies.
func (h *MessagesHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	folder := r.URL.Query().Get("folder")
	limit := ParseLimitParam(r, mailsync.DefaultMessageListLimit)

	messages, err := h.retriever.ListMessages(ctx, userID, folder, limit)
	if err != nil {
		writeError(w, err, h.log)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	writeJSON(w, http.StatusOK, messages, h.log)
}

// GetMessage returns one message with its sanitized body. Opening it marks it read.
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	msg, err := h.retriever.GetMessage(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, msg, h.log)
}

// GetAttachment streams an attachment body as a download.
func (h *MessagesHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	att, err := h.retriever.DownloadAttachment(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Body)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if att.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(att.Body); err != nil {
		h.log.Debug().Err(err).Msg("Failed to write attachment")
	}
}
