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

// GetSyncState returns the user's sync state. A user without a row is reported as unconfigured.
func GetSyncState(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.SyncAccountState, error) {
	state := models.SyncAccountState{UserID: userID}

	err := pool.QueryRow(ctx, `
		SELECT configured, sync_enabled, last_sync_at, last_error
		FROM sync_account_state
		WHERE user_id = $1
	`, userID).Scan(&state.Configured, &state.SyncEnabled, &state.LastSyncAt, &state.LastError)

	if errors.Is(err, pgx.ErrNoRows) {
		return &state, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return &state, nil
}

// MarkConfigured flips configured and sync_enabled on. When lastSyncAt is nil the
// previous value is kept.
func MarkConfigured(ctx context.Context, pool *pgxpool.Pool, userID string, lastSyncAt *time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sync_account_state (user_id, configured, sync_enabled, last_sync_at)
		VALUES ($1, true, true, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			configured = true,
			sync_enabled = true,
			last_sync_at = COALESCE($2, sync_account_state.last_sync_at)
	`, userID, lastSyncAt)

	if err != nil {
		return fmt.Errorf("failed to mark account configured: %w", err)
	}

	return nil
}

// RecordSyncSuccess stamps the attempt time and clears the last error.
func RecordSyncSuccess(ctx context.Context, pool *pgxpool.Pool, userID string, at time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sync_account_state (user_id, last_sync_at, last_error)
		VALUES ($1, $2, NULL)
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_error = NULL
	`, userID, at)

	if err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}

	return nil
}

// RecordSyncFailure stamps the attempt time and stores a user-displayable reason.
func RecordSyncFailure(ctx context.Context, pool *pgxpool.Pool, userID string, at time.Time, reason string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sync_account_state (user_id, last_sync_at, last_error)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_error = EXCLUDED.last_error
	`, userID, at, reason)

	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}

	return nil
}
