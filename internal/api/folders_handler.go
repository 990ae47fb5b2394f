package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
)

// FoldersHandler serves the cached folder list and creates and deletes folders.
type FoldersHandler struct {
	pool   *pgxpool.Pool
	store  mailsync.Store
	syncer *mailsync.Synchronizer
	log    zerolog.Logger
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(pool *pgxpool.Pool, store mailsync.Store, syncer *mailsync.Synchronizer, logger zerolog.Logger) *FoldersHandler {
	return &FoldersHandler{
		pool:   pool,
		store:  store,
		syncer: syncer,
		log:    logger.With().Str("handler", "folders").Logger(),
	}
}

type createFolderRequest struct {
	Name string `json:"name"`
}

// GetFolders returns the locally cached folders of the current user. It never contacts
// the mail server; the sync scheduler keeps the cache current.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	folders, err := h.store.ListFolders(ctx, userID)
	if err != nil {
		writeError(w, err, h.log)
		return
	}
	if folders == nil {
		folders = []*models.Folder{}
	}

	writeJSON(w, http.StatusOK, folders, h.log)
}

// PostFolder creates a folder on the server and in the local cache.
func (h *FoldersHandler) PostFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	var req createFolderRequest
	if !decodeJSON(w, r, &req, h.log) {
		return
	}

	folder, err := h.syncer.CreateFolder(ctx, userID, req.Name)
	if err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusCreated, folder, h.log)
}

// DeleteFolder deletes the folder named by the path query parameter.
func (h *FoldersHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	if err := h.syncer.DeleteFolder(ctx, userID, r.URL.Query().Get("path")); err != nil {
		writeError(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true}, h.log)
}
