package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// ReconcileResult summarizes one folder reconciliation.
type ReconcileResult struct {
	FolderCount int `json:"folder_count"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Deleted     int `json:"deleted"`
	Merged      int `json:"merged"`
}

// Synchronizer keeps the local folder table in line with the server's folder list.
type Synchronizer struct {
	store    Store
	gateway  imap.Gateway
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// NewSynchronizer creates a Synchronizer. notifier may be nil.
func NewSynchronizer(store Store, gateway imap.Gateway, notifier Notifier, logger zerolog.Logger) *Synchronizer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Synchronizer{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		now:      time.Now,
		log:      logger.With().Str("component", "folder_sync").Logger(),
	}
}

func (s *Synchronizer) configuredSettings(ctx context.Context, userID string) (*models.AccountSettings, error) {
	return configuredSettings(ctx, s.store, userID)
}

// configuredSettings returns the user's settings, or ErrNotConfigured when the account
// is not configured or has no settings.
func configuredSettings(ctx context.Context, store Store, userID string) (*models.AccountSettings, error) {
	state, err := store.GetSyncState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	if !state.Configured {
		return nil, ErrNotConfigured
	}

	settings, err := store.GetAccountSettings(ctx, userID)
	if errors.Is(err, db.ErrAccountSettingsNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account settings: %w", err)
	}
	return settings, nil
}

// ReconcileFolders repairs duplicates, lists the server's folders and upserts them by
// path. Local folders the server no longer lists are deleted unless they have a special
// type. The outcome of every attempt past the configuration check is recorded in the
// sync state.
func (s *Synchronizer) ReconcileFolders(ctx context.Context, userID string, forceRefresh bool) (ReconcileResult, error) {
	settings, err := s.configuredSettings(ctx, userID)
	if err != nil {
		return ReconcileResult{}, err
	}

	log := s.log.With().Str("user_id", userID).Bool("force_refresh", forceRefresh).Logger()

	report, err := s.RepairDuplicates(ctx, userID)
	if err != nil {
		return ReconcileResult{}, s.recordFailure(ctx, userID, &PartialFailureError{
			Op:     "repair duplicates",
			Reason: "failed to repair duplicate folders",
			Err:    err,
		})
	}

	remote, err := s.listRemote(ctx, settings, forceRefresh)
	if err != nil {
		return ReconcileResult{}, s.recordFailure(ctx, userID, err)
	}

	result, err := s.apply(ctx, userID, remote)
	result.Merged = report.Merged
	if err != nil {
		return result, s.recordFailure(ctx, userID, &PartialFailureError{
			Op:     "reconcile folders",
			Reason: "failed to update local folders",
			Err:    err,
		})
	}

	if err := s.store.RecordSyncSuccess(ctx, userID, s.now()); err != nil {
		return result, fmt.Errorf("failed to record sync success: %w", err)
	}

	log.Info().
		Int("folders", result.FolderCount).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("merged", result.Merged).
		Msg("Folders reconciled")

	return result, nil
}

func (s *Synchronizer) listRemote(ctx context.Context, settings *models.AccountSettings, forceRefresh bool) ([]imap.RemoteFolder, error) {
	ctx, cancel := context.WithTimeout(ctx, settings.Timeout())
	defer cancel()

	remote, err := s.gateway.ListFolders(ctx, imap.CredentialsFromSettings(settings), forceRefresh)
	if err != nil {
		return nil, newConnectionError(err)
	}
	return remote, nil
}

// apply upserts the remote folders and deletes stale custom folders.
func (s *Synchronizer) apply(ctx context.Context, userID string, remote []imap.RemoteFolder) (ReconcileResult, error) {
	var result ReconcileResult

	local, err := s.store.ListFolders(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("failed to list local folders: %w", err)
	}

	known := make(map[string]bool, len(remote))
	for _, rf := range remote {
		if rf.Path == "" || known[rf.Path] {
			continue
		}
		known[rf.Path] = true

		created, err := s.store.UpsertFolder(ctx, toFolder(userID, rf))
		if err != nil {
			return result, fmt.Errorf("failed to upsert folder %s: %w", rf.Path, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	for _, folder := range local {
		if known[folder.Path] {
			continue
		}
		if folder.Type.IsSpecial() {
			// Servers sometimes omit special folders from one listing; keep them.
			known[folder.Path] = true
			continue
		}
		if err := s.store.DeleteFolderByPath(ctx, userID, folder.Path); err != nil {
			return result, fmt.Errorf("failed to delete stale folder %s: %w", folder.Path, err)
		}
		known[folder.Path] = true
		result.Deleted++
	}

	result.FolderCount = len(known) - result.Deleted
	return result, nil
}

// recordFailure stores the reason of a failed attempt as the account's last error.
func (s *Synchronizer) recordFailure(ctx context.Context, userID string, err error) error {
	if recordErr := s.store.RecordSyncFailure(ctx, userID, s.now(), Reason(err)); recordErr != nil {
		s.log.Error().Err(recordErr).Str("user_id", userID).Msg("Failed to record sync failure")
	}
	return err
}

// CreateFolder creates a folder on the server and then stores it locally. A server
// failure leaves local state untouched. When the local write fails after the server
// accepted the folder, the result is a *PartialFailureError and the next reconcile picks
// the folder up.
func (s *Synchronizer) CreateFolder(ctx context.Context, userID, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name"}
	}

	settings, err := s.configuredSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, settings.Timeout())
	remote, err := s.gateway.CreateFolder(gatewayCtx, imap.CredentialsFromSettings(settings), name)
	cancel()
	if err != nil {
		return nil, newConnectionError(err)
	}
	if remote.Path == "" {
		remote.Path = name
	}

	folder := toFolder(userID, remote)
	if _, err := s.store.UpsertFolder(ctx, folder); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("folder", remote.Path).Msg("Folder created on server but not stored")
		return nil, &PartialFailureError{
			Op:     "create folder",
			Reason: "the folder was created on the server but could not be saved locally; it will appear after the next sync",
			Err:    err,
		}
	}

	s.notifier.Invalidate(userID, KindFolders)
	return folder, nil
}

// DeleteFolder deletes a folder on the server and then locally, with the same failure
// handling as CreateFolder.
func (s *Synchronizer) DeleteFolder(ctx context.Context, userID, path string) error {
	if path == "" {
		return &ValidationError{Field: "path"}
	}

	settings, err := s.configuredSettings(ctx, userID)
	if err != nil {
		return err
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, settings.Timeout())
	err = s.gateway.DeleteFolder(gatewayCtx, imap.CredentialsFromSettings(settings), path)
	cancel()
	if err != nil {
		return newConnectionError(err)
	}

	if err := s.store.DeleteFolderByPath(ctx, userID, path); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("folder", path).Msg("Folder deleted on server but not locally")
		return &PartialFailureError{
			Op:     "delete folder",
			Reason: "the folder was deleted on the server but could not be removed locally; it will disappear after the next sync",
			Err:    err,
		}
	}

	s.notifier.Invalidate(userID, KindFolders)
	return nil
}

func toFolder(userID string, rf imap.RemoteFolder) *models.Folder {
	name := rf.Name
	if name == "" {
		name = rf.Path
	}
	flags := rf.Flags
	if flags == nil {
		flags = []string{}
	}
	return &models.Folder{
		UserID:         userID,
		Name:           name,
		Path:           rf.Path,
		Type:           ClassifyFolder(rf.SpecialUse),
		Flags:          flags,
		TotalMessages:  rf.TotalMessages,
		UnreadMessages: rf.UnreadMessages,
	}
}
