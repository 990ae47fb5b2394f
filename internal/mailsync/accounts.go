package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/logging"
	"github.com/vdavid/mailsync/internal/models"
)

// Accounts saves and loads account settings.
type Accounts struct {
	store    Store
	gateway  imap.Gateway
	sessions *SessionManager
	log      zerolog.Logger
}

// NewAccounts creates an Accounts. gateway and sessions may be nil.
func NewAccounts(store Store, gateway imap.Gateway, sessions *SessionManager, logger zerolog.Logger) *Accounts {
	return &Accounts{
		store:    store,
		gateway:  gateway,
		sessions: sessions,
		log:      logger.With().Str("component", "accounts").Logger(),
	}
}

// GetSettings returns the user's settings without the secret, or ErrNotConfigured.
func (a *Accounts) GetSettings(ctx context.Context, userID string) (*models.AccountSettingsResponse, error) {
	settings, err := a.store.GetAccountSettings(ctx, userID)
	if errors.Is(err, db.ErrAccountSettingsNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account settings: %w", err)
	}
	return toSettingsResponse(settings), nil
}

// Draft turns a request into settings for the user, after checking field shapes and
// applying defaults. An empty secret means "keep the stored one".
func (a *Accounts) Draft(ctx context.Context, userID string, req *models.AccountSettingsRequest) (*models.AccountSettings, error) {
	draft, _, err := a.draft(ctx, userID, req)
	return draft, err
}

func (a *Accounts) draft(ctx context.Context, userID string, req *models.AccountSettingsRequest) (*models.AccountSettings, *models.AccountSettings, error) {
	if err := validateRequest(req); err != nil {
		return nil, nil, err
	}

	existing, err := a.store.GetAccountSettings(ctx, userID)
	if errors.Is(err, db.ErrAccountSettingsNotFound) {
		existing = nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to get account settings: %w", err)
	}

	secret := req.Secret
	if secret == "" {
		if existing == nil {
			return nil, nil, &ValidationError{Field: "secret"}
		}
		secret = existing.Secret
	}

	draft := &models.AccountSettings{
		UserID:               userID,
		Host:                 strings.TrimSpace(req.Host),
		Port:                 req.Port,
		Username:             strings.TrimSpace(req.Username),
		Secret:               secret,
		TransportSecurity:    req.TransportSecurity,
		TimeoutMs:            req.TimeoutMs,
		MaxMessagesPerFolder: req.MaxMessagesPerFolder,
	}
	if draft.TransportSecurity == "" {
		draft.TransportSecurity = models.TransportTLS
	}
	if draft.TimeoutMs == 0 {
		draft.TimeoutMs = models.DefaultTimeoutMs
	}
	if draft.MaxMessagesPerFolder == 0 {
		draft.MaxMessagesPerFolder = models.DefaultMessagesPerFolder
	}

	return draft, existing, nil
}

// SaveSettings stores the settings and marks the account configured, whether or not a
// sync has succeeded yet. Switching to another server or login drops the old mailbox's
// cached messages and ingestion cursors.
func (a *Accounts) SaveSettings(ctx context.Context, userID string, req *models.AccountSettingsRequest) (*models.AccountSettingsResponse, error) {
	settings, existing, err := a.draft(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if err := a.store.SaveAccountSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save account settings: %w", err)
	}

	if err := a.store.MarkConfigured(ctx, userID, nil); err != nil {
		return nil, fmt.Errorf("failed to mark account configured: %w", err)
	}

	if existing != nil {
		if !strings.EqualFold(existing.Host, settings.Host) || existing.Username != settings.Username {
			if err := a.store.ClearMailboxCache(ctx, userID); err != nil {
				return nil, fmt.Errorf("failed to clear mailbox cache: %w", err)
			}
		}
		if a.gateway != nil {
			a.gateway.Forget(userID)
		}
	}
	if a.sessions != nil {
		a.sessions.RestartWatch(userID)
	}

	a.log.Info().
		Str("user_id", userID).
		Str("host", settings.Host).
		Str("username", logging.MaskEmail(settings.Username)).
		Msg("Account settings saved")

	return toSettingsResponse(settings), nil
}

func validateRequest(req *models.AccountSettingsRequest) error {
	switch {
	case req == nil:
		return &ValidationError{Field: "settings"}
	case strings.TrimSpace(req.Host) == "":
		return &ValidationError{Field: "host"}
	case strings.TrimSpace(req.Username) == "":
		return &ValidationError{Field: "username"}
	case req.TransportSecurity != "" && !req.TransportSecurity.Valid():
		return &ValidationError{Field: "transport_security", Reason: "must be one of tls, starttls, none"}
	case req.Port < 0 || req.Port > 65535:
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	case req.TimeoutMs != 0 && (req.TimeoutMs < models.MinTimeoutMs || req.TimeoutMs > models.MaxTimeoutMs):
		return &ValidationError{
			Field:  "timeout_ms",
			Reason: fmt.Sprintf("must be between %d and %d", models.MinTimeoutMs, models.MaxTimeoutMs),
		}
	case req.MaxMessagesPerFolder != 0 && (req.MaxMessagesPerFolder < models.MinMessagesPerFolder || req.MaxMessagesPerFolder > models.MaxMessagesPerFolder):
		return &ValidationError{
			Field:  "max_messages_per_folder",
			Reason: fmt.Sprintf("must be between %d and %d", models.MinMessagesPerFolder, models.MaxMessagesPerFolder),
		}
	}
	return nil
}

func toSettingsResponse(settings *models.AccountSettings) *models.AccountSettingsResponse {
	return &models.AccountSettingsResponse{
		Host:                 settings.Host,
		Port:                 settings.EffectivePort(),
		Username:             settings.Username,
		SecretSet:            settings.Secret != "" || len(settings.EncryptedSecret) > 0,
		TransportSecurity:    settings.TransportSecurity,
		TimeoutMs:            settings.TimeoutMs,
		MaxMessagesPerFolder: settings.MaxMessagesPerFolder,
	}
}
