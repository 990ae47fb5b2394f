package mailsync

import (
	"context"
	"time"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// Store is the local cache the engine reads and writes. Not-found conditions are
// reported with the db package's sentinel errors.
type Store interface {
	AccountSettingsExist(ctx context.Context, userID string) (bool, error)
	GetAccountSettings(ctx context.Context, userID string) (*models.AccountSettings, error)
	SaveAccountSettings(ctx context.Context, settings *models.AccountSettings) error

	GetSyncState(ctx context.Context, userID string) (*models.SyncAccountState, error)
	MarkConfigured(ctx context.Context, userID string, lastSyncAt *time.Time) error
	RecordSyncSuccess(ctx context.Context, userID string, at time.Time) error
	RecordSyncFailure(ctx context.Context, userID string, at time.Time, reason string) error

	ListFolders(ctx context.Context, userID string) ([]*models.Folder, error)
	UpsertFolder(ctx context.Context, folder *models.Folder) (bool, error)
	DeleteFolderByID(ctx context.Context, userID, folderID string) error
	DeleteFolderByPath(ctx context.Context, userID, path string) error

	ListMessages(ctx context.Context, userID, folderPath string, limit int) ([]*models.Message, error)
	GetMessage(ctx context.Context, userID, messageID string) (*models.Message, error)
	SaveMessage(ctx context.Context, message *models.Message) error
	DeleteFolderMessages(ctx context.Context, userID, folderPath string) error
	MarkMessageRead(ctx context.Context, userID, messageID string) (bool, error)
	ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
	GetAttachment(ctx context.Context, userID, attachmentID string) (*models.Attachment, error)

	GetFolderSyncCursor(ctx context.Context, userID, folderPath string) (*models.FolderSyncCursor, error)
	SaveFolderSyncCursor(ctx context.Context, cursor *models.FolderSyncCursor) error
	GetFolderSyncTime(ctx context.Context, userID, folderPath string) (*time.Time, error)
	ClearProviderCursors(ctx context.Context, userID string) error
	ClearMailboxCache(ctx context.Context, userID string) error

	CleanupFolders(ctx context.Context, userID string) error
	ResetAccount(ctx context.Context, userID string) error
}

var _ Store = (*db.Store)(nil)

// Read models that consumers cache and must re-fetch after a change.
const (
	KindFolders  = "folders"
	KindMessages = "messages"
)

// Notifier tells connected clients that a read model of a user changed.
type Notifier interface {
	Invalidate(userID, kind string)
}

type nopNotifier struct{}

func (nopNotifier) Invalidate(string, string) {}
