package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupFolders wipes the user's cached folders and sync timestamps in one transaction.
// Account settings and the configured flag are kept.
func CleanupFolders(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	return withTx(ctx, pool, "cleanup folders", func(tx pgx.Tx) error {
		return cleanupFolders(ctx, tx, userID)
	})
}

// ResetAccount does everything CleanupFolders does, then de-configures the account and
// drops its ingestion cursors together with the messages they describe. Stored settings
// survive so the user can re-enable sync.
func ResetAccount(ctx context.Context, pool *pgxpool.Pool, userID string) error {
	return withTx(ctx, pool, "reset account", func(tx pgx.Tx) error {
		if err := cleanupFolders(ctx, tx, userID); err != nil {
			return err
		}
		if err := clearMailboxCache(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sync_account_state (user_id, configured, sync_enabled, last_sync_at, last_error)
			VALUES ($1, false, false, NULL, NULL)
			ON CONFLICT (user_id) DO UPDATE SET
				configured = false,
				sync_enabled = false,
				last_sync_at = NULL,
				last_error = NULL
		`, userID); err != nil {
			return fmt.Errorf("failed to reset sync state: %w", err)
		}
		return nil
	})
}

func cleanupFolders(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM folders WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete folders: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM folder_sync_timestamps WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete folder sync timestamps: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sync_account_state SET last_sync_at = NULL, last_error = NULL
		WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("failed to clear sync timestamps: %w", err)
	}
	return nil
}

func withTx(ctx context.Context, pool *pgxpool.Pool, op string, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}
