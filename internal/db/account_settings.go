package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrAccountSettingsNotFound is returned when a user has never saved account settings.
var ErrAccountSettingsNotFound = errors.New("account settings not found")

// AccountSettingsExist returns true if the user has saved account settings.
func AccountSettingsExist(ctx context.Context, pool *pgxpool.Pool, userID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM account_settings WHERE user_id = $1)
	`, userID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check account settings existence: %w", err)
	}

	return exists, nil
}

// GetAccountSettings returns the stored settings with the secret still encrypted.
func GetAccountSettings(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.AccountSettings, error) {
	var settings models.AccountSettings
	var transport string

	err := pool.QueryRow(ctx, `
		SELECT
			user_id,
			host,
			port,
			username,
			encrypted_secret,
			transport_security,
			timeout_ms,
			max_messages_per_folder,
			created_at,
			updated_at
		FROM account_settings
		WHERE user_id = $1
	`, userID).Scan(
		&settings.UserID,
		&settings.Host,
		&settings.Port,
		&settings.Username,
		&settings.EncryptedSecret,
		&transport,
		&settings.TimeoutMs,
		&settings.MaxMessagesPerFolder,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountSettingsNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account settings: %w", err)
	}

	settings.TransportSecurity = models.TransportSecurity(transport)
	return &settings, nil
}

// SaveAccountSettings inserts or replaces the user's settings. EncryptedSecret must already be set.
func SaveAccountSettings(ctx context.Context, pool *pgxpool.Pool, settings *models.AccountSettings) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO account_settings (
			user_id,
			host,
			port,
			username,
			encrypted_secret,
			transport_security,
			timeout_ms,
			max_messages_per_folder
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			username = EXCLUDED.username,
			encrypted_secret = EXCLUDED.encrypted_secret,
			transport_security = EXCLUDED.transport_security,
			timeout_ms = EXCLUDED.timeout_ms,
			max_messages_per_folder = EXCLUDED.max_messages_per_folder,
			updated_at = NOW()
	`,
		settings.UserID,
		settings.Host,
		settings.Port,
		settings.Username,
		settings.EncryptedSecret,
		string(settings.TransportSecurity),
		settings.TimeoutMs,
		settings.MaxMessagesPerFolder,
	)

	if err != nil {
		return fmt.Errorf("failed to save account settings: %w", err)
	}

	return nil
}
