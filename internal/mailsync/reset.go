package mailsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/imap"
)

// Resetter runs the destructive recovery operations. Neither can be undone.
type Resetter struct {
	store    Store
	gateway  imap.Gateway
	sessions *SessionManager
	notifier Notifier
	log      zerolog.Logger
}

// NewResetter creates a Resetter. sessions and notifier may be nil.
func NewResetter(store Store, gateway imap.Gateway, sessions *SessionManager, notifier Notifier, logger zerolog.Logger) *Resetter {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Resetter{
		store:    store,
		gateway:  gateway,
		sessions: sessions,
		notifier: notifier,
		log:      logger.With().Str("component", "reset").Logger(),
	}
}

// CleanupFolders deletes every local folder and the sync timestamps, keeping the
// account settings, so the next sync rediscovers the folder tree.
func (r *Resetter) CleanupFolders(ctx context.Context, userID string) error {
	if err := r.store.CleanupFolders(ctx, userID); err != nil {
		return fmt.Errorf("failed to clean up folders: %w", err)
	}

	r.log.Info().Str("user_id", userID).Msg("Local folders cleaned up")
	r.notifier.Invalidate(userID, KindFolders)
	return nil
}

// ResetAccount does what CleanupFolders does and also marks the account unconfigured,
// disables sync, clears the provider cursors and drops the user's server connections.
func (r *Resetter) ResetAccount(ctx context.Context, userID string) error {
	if err := r.store.ResetAccount(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset account: %w", err)
	}

	if r.gateway != nil {
		r.gateway.Forget(userID)
	}
	if r.sessions != nil {
		// The watcher finds the account unconfigured and stays stopped.
		r.sessions.RestartWatch(userID)
	}

	r.log.Info().Str("user_id", userID).Msg("Account reset")
	r.notifier.Invalidate(userID, KindFolders)
	r.notifier.Invalidate(userID, KindMessages)
	return nil
}
