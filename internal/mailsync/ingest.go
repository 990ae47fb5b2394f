package mailsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// Ingestor copies the newest messages of a folder into the local cache.
type Ingestor struct {
	store   Store
	gateway imap.Gateway
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewIngestor creates an Ingestor. A folder synced less than ttl ago is considered fresh.
func NewIngestor(store Store, gateway imap.Gateway, ttl time.Duration, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		gateway: gateway,
		ttl:     ttl,
		now:     time.Now,
		log:     logger.With().Str("component", "ingest").Logger(),
	}
}

// ShouldSyncFolder reports whether the folder has no sync timestamp (never ingested, or
// cleared by a cleanup) or its last ingestion is older than the TTL.
func (i *Ingestor) ShouldSyncFolder(ctx context.Context, userID, path string) (bool, error) {
	syncedAt, err := i.store.GetFolderSyncTime(ctx, userID, path)
	if err != nil {
		return false, err
	}
	if syncedAt == nil {
		return true, nil
	}
	return i.now().Sub(*syncedAt) >= i.ttl, nil
}

// SyncFolderMessages fetches messages newer than the folder's cursor, at most the
// account's per-folder cap, and stores them. It returns how many were stored.
func (i *Ingestor) SyncFolderMessages(ctx context.Context, userID, path string) (int, error) {
	settings, err := configuredSettings(ctx, i.store, userID)
	if err != nil {
		return 0, err
	}

	cursor, err := i.store.GetFolderSyncCursor(ctx, userID, path)
	if err != nil {
		return 0, err
	}

	var afterUID uint32
	if cursor != nil {
		afterUID = uint32(cursor.LastSyncedUID)
	}

	result, err := i.fetch(ctx, settings, path, afterUID)
	if err != nil {
		return 0, err
	}

	if cursor != nil && cursor.UIDValidity != 0 && cursor.UIDValidity != int64(result.UIDValidity) {
		// The server renumbered the folder, so cached UIDs mean nothing anymore.
		i.log.Warn().
			Str("user_id", userID).
			Str("folder", path).
			Int64("old_uid_validity", cursor.UIDValidity).
			Uint32("new_uid_validity", result.UIDValidity).
			Msg("UID validity changed, re-ingesting folder")

		if err := i.store.DeleteFolderMessages(ctx, userID, path); err != nil {
			return 0, err
		}
		afterUID = 0
		if result, err = i.fetch(ctx, settings, path, 0); err != nil {
			return 0, err
		}
	}

	lastUID := afterUID
	for _, msg := range result.Messages {
		msg.UserID = userID
		msg.FolderPath = path
		if err := i.store.SaveMessage(ctx, msg); err != nil {
			return 0, fmt.Errorf("failed to store message %d: %w", msg.IMAPUID, err)
		}
		if uid := uint32(msg.IMAPUID); uid > lastUID {
			lastUID = uid
		}
	}

	if err := i.store.SaveFolderSyncCursor(ctx, &models.FolderSyncCursor{
		UserID:        userID,
		FolderPath:    path,
		UIDValidity:   int64(result.UIDValidity),
		LastSyncedUID: int64(lastUID),
		SyncedAt:      i.now(),
	}); err != nil {
		return 0, err
	}

	i.log.Debug().
		Str("user_id", userID).
		Str("folder", path).
		Int("messages", len(result.Messages)).
		Uint32("last_uid", lastUID).
		Msg("Folder messages ingested")

	return len(result.Messages), nil
}

func (i *Ingestor) fetch(ctx context.Context, settings *models.AccountSettings, path string, afterUID uint32) (*imap.FetchResult, error) {
	limit := settings.MaxMessagesPerFolder
	if limit <= 0 {
		limit = models.DefaultMessagesPerFolder
	}

	ctx, cancel := context.WithTimeout(ctx, settings.Timeout())
	defer cancel()

	result, err := i.gateway.FetchMessages(ctx, imap.CredentialsFromSettings(settings), path, afterUID, limit)
	if err != nil {
		return nil, newConnectionError(err)
	}
	return result, nil
}
