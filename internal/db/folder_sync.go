package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// GetFolderSyncCursor returns the ingestion cursor of a folder.
// Returns nil if the folder was never ingested.
func GetFolderSyncCursor(ctx context.Context, pool *pgxpool.Pool, userID, folderPath string) (*models.FolderSyncCursor, error) {
	cursor := models.FolderSyncCursor{UserID: userID, FolderPath: folderPath}

	err := pool.QueryRow(ctx, `
		SELECT uid_validity, last_synced_uid, synced_at
		FROM folder_sync_cursors
		WHERE user_id = $1 AND folder_path = $2
	`, userID, folderPath).Scan(&cursor.UIDValidity, &cursor.LastSyncedUID, &cursor.SyncedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get folder sync cursor: %w", err)
	}

	return &cursor, nil
}

// SaveFolderSyncCursor stores the cursor and stamps the folder's sync timestamp in one transaction.
func SaveFolderSyncCursor(ctx context.Context, pool *pgxpool.Pool, cursor *models.FolderSyncCursor) error {
	if cursor.SyncedAt.IsZero() {
		cursor.SyncedAt = time.Now()
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO folder_sync_cursors (user_id, folder_path, uid_validity, last_synced_uid, synced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, folder_path) DO UPDATE SET
			uid_validity = EXCLUDED.uid_validity,
			last_synced_uid = EXCLUDED.last_synced_uid,
			synced_at = EXCLUDED.synced_at
	`, cursor.UserID, cursor.FolderPath, cursor.UIDValidity, cursor.LastSyncedUID, cursor.SyncedAt); err != nil {
		return fmt.Errorf("failed to save folder sync cursor: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO folder_sync_timestamps (user_id, folder_path, synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, folder_path) DO UPDATE SET synced_at = EXCLUDED.synced_at
	`, cursor.UserID, cursor.FolderPath, cursor.SyncedAt); err != nil {
		return fmt.Errorf("failed to stamp folder sync time: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit folder sync cursor: %w", err)
	}

	return nil
}

// GetFolderSyncTime returns when the folder's messages were last ingested.
// Returns nil if the folder was never ingested or its timestamp was cleared.
func GetFolderSyncTime(ctx context.Context, pool *pgxpool.Pool, userID, folderPath string) (*time.Time, error) {
	var syncedAt time.Time
	err := pool.QueryRow(ctx, `
		SELECT synced_at
		FROM folder_sync_timestamps
		WHERE user_id = $1 AND folder_path = $2
	`, userID, folderPath).Scan(&syncedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get folder sync time: %w", err)
	}

	return &syncedAt, nil
}

// ClearMailboxCache forgets everything ingested from the user's mailbox: cached messages
// (and their attachments), ingestion cursors and folder sync timestamps. Used when the
// account starts pointing at a different mailbox, whose UIDs mean nothing for the old rows.
func ClearMailboxCache(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	return withTx(ctx, pool, "clear mailbox cache", func(tx pgx.Tx) error {
		return clearMailboxCache(ctx, tx, userID)
	})
}

func clearMailboxCache(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete cached messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM folder_sync_cursors WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear provider cursors: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM folder_sync_timestamps WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete folder sync timestamps: %w", err)
	}
	return nil
}

// ClearProviderCursors drops every ingestion cursor of the user so the next ingest starts over.
func ClearProviderCursors(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM folder_sync_cursors WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear provider cursors: %w", err)
	}
	return nil
}
