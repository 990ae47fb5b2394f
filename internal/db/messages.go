package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// ErrAttachmentNotFound is returned when a requested attachment cannot be found.
var ErrAttachmentNotFound = errors.New("attachment not found")

// SaveMessage inserts or refreshes a message keyed by (user_id, folder_path, imap_uid).
// A message that was read locally stays read even if the server still reports it unseen.
// Attachments are stored only when the message is first inserted. A cached row whose
// Message-ID differs is a different message that reused the UID: it is replaced outright,
// taking the server's read flag and its own attachments.
func SaveMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) error {
	cc := message.CC
	if cc == nil {
		cc = []string{}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID, existingHeader string
	err = tx.QueryRow(ctx, `
		SELECT id, message_id_header
		FROM messages
		WHERE user_id = $1 AND folder_path = $2 AND imap_uid = $3
		FOR UPDATE
	`, message.UserID, message.FolderPath, message.IMAPUID).Scan(&existingID, &existingHeader)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to look up cached message: %w", err)
	case existingHeader != message.MessageIDHeader:
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, existingID); err != nil {
			return fmt.Errorf("failed to replace cached message: %w", err)
		}
	}

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			user_id,
			folder_path,
			imap_uid,
			message_id_header,
			subject,
			from_address,
			from_name,
			to_address,
			to_name,
			cc_addresses,
			sent_at,
			is_read,
			is_starred,
			has_attachments,
			unsafe_body_html,
			body_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, folder_path, imap_uid) DO UPDATE SET
			message_id_header = EXCLUDED.message_id_header,
			subject = EXCLUDED.subject,
			from_address = EXCLUDED.from_address,
			from_name = EXCLUDED.from_name,
			to_address = EXCLUDED.to_address,
			to_name = EXCLUDED.to_name,
			cc_addresses = EXCLUDED.cc_addresses,
			sent_at = EXCLUDED.sent_at,
			is_read = messages.is_read OR EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred,
			has_attachments = EXCLUDED.has_attachments,
			unsafe_body_html = COALESCE(EXCLUDED.unsafe_body_html, messages.unsafe_body_html),
			body_text = COALESCE(EXCLUDED.body_text, messages.body_text)
		RETURNING id, is_read, (xmax = 0)
	`,
		message.UserID,
		message.FolderPath,
		message.IMAPUID,
		message.MessageIDHeader,
		message.Subject,
		message.FromAddress,
		message.FromName,
		message.ToAddress,
		message.ToName,
		cc,
		message.SentAt,
		message.IsRead,
		message.IsStarred,
		message.HasAttachments,
		nullIfEmpty(message.UnsafeBodyHTML),
		nullIfEmpty(message.BodyText),
	).Scan(&message.ID, &message.IsRead, &inserted)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if inserted {
		for i := range message.Attachments {
			att := &message.Attachments[i]
			att.MessageID = message.ID
			if err := tx.QueryRow(ctx, `
				INSERT INTO attachments (message_id, filename, mime_type, size_bytes, is_inline, content_id, body)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id
			`, att.MessageID, att.Filename, att.MimeType, att.SizeBytes, att.IsInline, att.ContentID, att.Body).Scan(&att.ID); err != nil {
				return fmt.Errorf("failed to save attachment: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// ListMessages returns the newest messages of a folder without bodies or attachments.
func ListMessages(ctx context.Context, pool *pgxpool.Pool, userID, folderPath string, limit int) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			id,
			user_id,
			folder_path,
			imap_uid,
			message_id_header,
			subject,
			from_address,
			from_name,
			to_address,
			to_name,
			cc_addresses,
			sent_at,
			is_read,
			is_starred,
			has_attachments
		FROM messages
		WHERE user_id = $1 AND folder_path = $2
		ORDER BY sent_at DESC NULLS LAST, imap_uid DESC
		LIMIT $3
	`, userID, folderPath, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.FolderPath,
			&msg.IMAPUID,
			&msg.MessageIDHeader,
			&msg.Subject,
			&msg.FromAddress,
			&msg.FromName,
			&msg.ToAddress,
			&msg.ToName,
			&msg.CC,
			&msg.SentAt,
			&msg.IsRead,
			&msg.IsStarred,
			&msg.HasAttachments,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// GetMessage returns a message of the user with its stored bodies. Attachments are not loaded.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, userID, messageID string) (*models.Message, error) {
	var msg models.Message
	var unsafeHTML, bodyText *string

	err := pool.QueryRow(ctx, `
		SELECT
			id,
			user_id,
			folder_path,
			imap_uid,
			message_id_header,
			subject,
			from_address,
			from_name,
			to_address,
			to_name,
			cc_addresses,
			sent_at,
			is_read,
			is_starred,
			has_attachments,
			unsafe_body_html,
			body_text
		FROM messages
		WHERE id = $1 AND user_id = $2
	`, messageID, userID).Scan(
		&msg.ID,
		&msg.UserID,
		&msg.FolderPath,
		&msg.IMAPUID,
		&msg.MessageIDHeader,
		&msg.Subject,
		&msg.FromAddress,
		&msg.FromName,
		&msg.ToAddress,
		&msg.ToName,
		&msg.CC,
		&msg.SentAt,
		&msg.IsRead,
		&msg.IsStarred,
		&msg.HasAttachments,
		&unsafeHTML,
		&bodyText,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if unsafeHTML != nil {
		msg.UnsafeBodyHTML = *unsafeHTML
	}
	if bodyText != nil {
		msg.BodyText = *bodyText
	}

	return &msg, nil
}

// MarkMessageRead flips an unread message to read and decrements its folder's unread
// counter in the same transaction. It reports false when the message was already read.
func MarkMessageRead(ctx context.Context, pool *pgxpool.Pool, userID, messageID string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var folderPath string
	err = tx.QueryRow(ctx, `
		UPDATE messages SET is_read = true
		WHERE id = $1 AND user_id = $2 AND is_read = false
		RETURNING folder_path
	`, messageID, userID).Scan(&folderPath)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE folders SET unread_messages = GREATEST(unread_messages - 1, 0), updated_at = NOW()
		WHERE user_id = $1 AND path = $2
	`, userID, folderPath); err != nil {
		return false, fmt.Errorf("failed to decrement unread count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit read marker: %w", err)
	}

	return true, nil
}

// ListAttachments returns attachment metadata of a message. Bodies are left nil.
func ListAttachments(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, filename, mime_type, size_bytes, is_inline, content_id
		FROM attachments
		WHERE message_id = $1
		ORDER BY filename, id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.IsInline,
			&att.ContentID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}

// GetAttachment returns an attachment owned by the user, body included. Body is nil when
// the content was never stored.
func GetAttachment(ctx context.Context, pool *pgxpool.Pool, userID, attachmentID string) (*models.Attachment, error) {
	var att models.Attachment

	err := pool.QueryRow(ctx, `
		SELECT a.id, a.message_id, a.filename, a.mime_type, a.size_bytes, a.is_inline, a.content_id, a.body
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE a.id = $1 AND m.user_id = $2
	`, attachmentID, userID).Scan(
		&att.ID,
		&att.MessageID,
		&att.Filename,
		&att.MimeType,
		&att.SizeBytes,
		&att.IsInline,
		&att.ContentID,
		&att.Body,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return &att, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeleteFolderMessages drops the cached messages of a folder, e.g. after the server reset
// its UID validity.
func DeleteFolderMessages(ctx context.Context, pool *pgxpool.Pool, userID, folderPath string) error {
	_, err := pool.Exec(ctx, `
		DELETE FROM messages
		WHERE user_id = $1 AND folder_path = $2
	`, userID, folderPath)

	if err != nil {
		return fmt.Errorf("failed to delete folder messages: %w", err)
	}

	return nil
}
