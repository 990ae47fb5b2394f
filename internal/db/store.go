package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/models"
)

// Store bundles the pool and the secret encryptor behind methods, so the sync engine
// can be tested against an in-memory implementation.
type Store struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewStore creates a Store that uses the given database pool.
func NewStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *Store {
	return &Store{pool: pool, encryptor: encryptor}
}

// Pool exposes the underlying pool for handlers that only need user lookups.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// GetAccountSettings returns the user's settings with Secret decrypted.
func (s *Store) GetAccountSettings(ctx context.Context, userID string) (*models.AccountSettings, error) {
	settings, err := GetAccountSettings(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}

	secret, err := s.encryptor.Decrypt(settings.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt account secret: %w", err)
	}
	settings.Secret = secret

	return settings, nil
}

// SaveAccountSettings encrypts settings.Secret and stores the settings.
func (s *Store) SaveAccountSettings(ctx context.Context, settings *models.AccountSettings) error {
	if settings.Secret == "" {
		return errors.New("account secret is empty")
	}

	encrypted, err := s.encryptor.Encrypt(settings.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt account secret: %w", err)
	}
	settings.EncryptedSecret = encrypted

	return SaveAccountSettings(ctx, s.pool, settings)
}

func (s *Store) AccountSettingsExist(ctx context.Context, userID string) (bool, error) {
	return AccountSettingsExist(ctx, s.pool, userID)
}

func (s *Store) GetSyncState(ctx context.Context, userID string) (*models.SyncAccountState, error) {
	return GetSyncState(ctx, s.pool, userID)
}

func (s *Store) MarkConfigured(ctx context.Context, userID string, lastSyncAt *time.Time) error {
	return MarkConfigured(ctx, s.pool, userID, lastSyncAt)
}

func (s *Store) RecordSyncSuccess(ctx context.Context, userID string, at time.Time) error {
	return RecordSyncSuccess(ctx, s.pool, userID, at)
}

func (s *Store) RecordSyncFailure(ctx context.Context, userID string, at time.Time, reason string) error {
	return RecordSyncFailure(ctx, s.pool, userID, at, reason)
}

func (s *Store) ListFolders(ctx context.Context, userID string) ([]*models.Folder, error) {
	return ListFolders(ctx, s.pool, userID)
}

func (s *Store) UpsertFolder(ctx context.Context, folder *models.Folder) (bool, error) {
	return UpsertFolder(ctx, s.pool, folder)
}

func (s *Store) DeleteFolderByID(ctx context.Context, userID, folderID string) error {
	return DeleteFolderByID(ctx, s.pool, userID, folderID)
}

func (s *Store) DeleteFolderByPath(ctx context.Context, userID, path string) error {
	return DeleteFolderByPath(ctx, s.pool, userID, path)
}

func (s *Store) ListMessages(ctx context.Context, userID, folderPath string, limit int) ([]*models.Message, error) {
	return ListMessages(ctx, s.pool, userID, folderPath, limit)
}

func (s *Store) GetMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	return GetMessage(ctx, s.pool, userID, messageID)
}

func (s *Store) SaveMessage(ctx context.Context, message *models.Message) error {
	return SaveMessage(ctx, s.pool, message)
}

func (s *Store) DeleteFolderMessages(ctx context.Context, userID, folderPath string) error {
	return DeleteFolderMessages(ctx, s.pool, userID, folderPath)
}

func (s *Store) MarkMessageRead(ctx context.Context, userID, messageID string) (bool, error) {
	return MarkMessageRead(ctx, s.pool, userID, messageID)
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	return ListAttachments(ctx, s.pool, messageID)
}

func (s *Store) GetAttachment(ctx context.Context, userID, attachmentID string) (*models.Attachment, error) {
	return GetAttachment(ctx, s.pool, userID, attachmentID)
}

func (s *Store) GetFolderSyncCursor(ctx context.Context, userID, folderPath string) (*models.FolderSyncCursor, error) {
	return GetFolderSyncCursor(ctx, s.pool, userID, folderPath)
}

func (s *Store) SaveFolderSyncCursor(ctx context.Context, cursor *models.FolderSyncCursor) error {
	return SaveFolderSyncCursor(ctx, s.pool, cursor)
}

func (s *Store) GetFolderSyncTime(ctx context.Context, userID, folderPath string) (*time.Time, error) {
	return GetFolderSyncTime(ctx, s.pool, userID, folderPath)
}

func (s *Store) ClearMailboxCache(ctx context.Context, userID string) error {
	return ClearMailboxCache(ctx, s.pool, userID)
}

func (s *Store) ClearProviderCursors(ctx context.Context, userID string) error {
	return ClearProviderCursors(ctx, s.pool, userID)
}

func (s *Store) CleanupFolders(ctx context.Context, userID string) error {
	return CleanupFolders(ctx, s.pool, userID)
}

func (s *Store) ResetAccount(ctx context.Context, userID string) error {
	return ResetAccount(ctx, s.pool, userID)
}
