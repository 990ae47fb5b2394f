package mailsync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// DefaultMessageListLimit caps message listings when the caller does not set a limit.
const DefaultMessageListLimit = 50

// Retriever serves cached messages and attachments.
type Retriever struct {
	store     Store
	ingest    *Ingestor
	notifier  Notifier
	sanitizer *Sanitizer
	log       zerolog.Logger
}

// NewRetriever creates a Retriever. ingest and notifier may be nil.
func NewRetriever(store Store, ingest *Ingestor, notifier Notifier, logger zerolog.Logger) *Retriever {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Retriever{
		store:     store,
		ingest:    ingest,
		notifier:  notifier,
		sanitizer: NewSanitizer(),
		log:       logger.With().Str("component", "retrieval").Logger(),
	}
}

func (r *Retriever) requireSettings(ctx context.Context, userID string) error {
	exists, err := r.store.AccountSettingsExist(ctx, userID)
	if err != nil {
		return &RetrievalError{Reason: "failed to load account", Err: err}
	}
	if !exists {
		return ErrNotConfigured
	}
	return nil
}

// ListMessages returns the newest cached messages of a folder, without bodies. A folder
// whose cache is stale is refreshed from the server first; if that fails the cached
// messages are returned anyway.
func (r *Retriever) ListMessages(ctx context.Context, userID, folderPath string, limit int) ([]*models.Message, error) {
	if folderPath == "" {
		return nil, &ValidationError{Field: "folder"}
	}
	if err := r.requireSettings(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageListLimit
	}

	if r.ingest != nil {
		r.refresh(ctx, userID, folderPath)
	}

	messages, err := r.store.ListMessages(ctx, userID, folderPath, limit)
	if err != nil {
		return nil, &RetrievalError{Reason: "failed to load messages", Err: err}
	}
	return messages, nil
}

func (r *Retriever) refresh(ctx context.Context, userID, folderPath string) {
	log := r.log.With().Str("user_id", userID).Str("folder", folderPath).Logger()

	stale, err := r.ingest.ShouldSyncFolder(ctx, userID, folderPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check folder freshness")
		return
	}
	if !stale {
		return
	}

	if _, err := r.ingest.SyncFolderMessages(ctx, userID, folderPath); err != nil {
		log.Warn().Err(err).Msg("Serving cached messages, refresh failed")
	}
}

// GetMessage returns a message of the user with its body sanitized and its attachments
// listed without bodies. Opening an unread message marks it read exactly once.
func (r *Retriever) GetMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, ErrMessageNotFound
	}
	if err := r.requireSettings(ctx, userID); err != nil {
		return nil, err
	}

	msg, err := r.store.GetMessage(ctx, userID, messageID)
	if errors.Is(err, db.ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, &RetrievalError{Reason: "failed to load message", Err: err}
	}

	if !msg.IsRead {
		changed, err := r.store.MarkMessageRead(ctx, userID, messageID)
		if err != nil {
			return nil, &RetrievalError{Reason: "failed to mark message as read", Err: err}
		}
		msg.IsRead = true
		if changed {
			r.notifier.Invalidate(userID, KindFolders)
		}
	}

	attachments, err := r.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, &RetrievalError{Reason: "failed to load attachments", Err: err}
	}
	msg.Attachments = attachments

	msg.BodyHTML = r.sanitizer.HTML(msg.UnsafeBodyHTML)
	msg.UnsafeBodyHTML = ""
	if msg.BodyText == "" {
		msg.BodyText = r.sanitizer.Text(msg.BodyHTML)
	}

	return msg, nil
}

// DownloadAttachment returns an attachment of the user with its body loaded from the
// local cache. A missing body is an error, never an empty download.
func (r *Retriever) DownloadAttachment(ctx context.Context, userID, attachmentID string) (*models.Attachment, error) {
	if _, err := uuid.Parse(attachmentID); err != nil {
		return nil, ErrAttachmentNotFound
	}
	if err := r.requireSettings(ctx, userID); err != nil {
		return nil, err
	}

	att, err := r.store.GetAttachment(ctx, userID, attachmentID)
	if errors.Is(err, db.ErrAttachmentNotFound) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, &RetrievalError{Reason: "failed to load attachment", Err: err}
	}

	if att.Body == nil {
		return nil, &RetrievalError{Reason: "attachment body not available"}
	}

	return att, nil
}
