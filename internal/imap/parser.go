package imap

import (
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailsync/internal/models"
)

// bodySection is BODY.PEEK[] so fetching never sets \Seen on the server.
var bodySection = &imap.BodySectionName{Peek: true}

// ParseMessage converts a fetched IMAP message to a Message of the given folder.
// Envelope fields come from the server; bodies and attachments from the raw RFC 822 text.
func ParseMessage(imapMsg *imap.Message, userID, folderPath string) (*models.Message, error) {
	if imapMsg == nil {
		return nil, errors.New("imap message is nil")
	}

	msg := &models.Message{
		UserID:     userID,
		FolderPath: folderPath,
		IMAPUID:    int64(imapMsg.Uid),
		CC:         []string{},
	}

	for _, flag := range imapMsg.Flags {
		switch flag {
		case imap.SeenFlag:
			msg.IsRead = true
		case imap.FlaggedFlag:
			msg.IsStarred = true
		}
	}

	if env := imapMsg.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.MessageIDHeader = env.MessageId
		if len(env.From) > 0 {
			msg.FromAddress, msg.FromName = splitAddress(env.From[0])
		}
		if len(env.To) > 0 {
			msg.ToAddress, msg.ToName = splitAddress(env.To[0])
		}
		for _, cc := range env.Cc {
			if addr, _ := splitAddress(cc); addr != "" {
				msg.CC = append(msg.CC, addr)
			}
		}
		if !env.Date.IsZero() {
			sentAt := env.Date
			msg.SentAt = &sentAt
		}
	}

	if body := imapMsg.GetBody(bodySection); body != nil {
		if err := parseBody(body, msg); err != nil {
			return msg, err
		}
	}

	return msg, nil
}

// parseBody fills bodies and attachments from the raw message using enmime.
func parseBody(r io.Reader, msg *models.Message) error {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return fmt.Errorf("failed to parse email body: %w", err)
	}

	msg.UnsafeBodyHTML = envelope.HTML
	msg.BodyText = envelope.Text

	parts := make([]*enmime.Part, 0, len(envelope.Attachments)+len(envelope.Inlines))
	parts = append(parts, envelope.Attachments...)
	parts = append(parts, envelope.Inlines...)

	for _, part := range parts {
		att := models.Attachment{
			Filename:  part.FileName,
			MimeType:  part.ContentType,
			SizeBytes: int64(len(part.Content)),
			ContentID: part.ContentID,
			IsInline:  part.Disposition == "inline" || part.ContentID != "",
			Body:      part.Content,
		}
		if att.MimeType == "" {
			att.MimeType = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	msg.HasAttachments = len(envelope.Attachments) > 0

	return nil
}

// splitAddress returns mailbox@host and the display name of an envelope address.
func splitAddress(address *imap.Address) (addr, name string) {
	if address == nil || (address.MailboxName == "" && address.HostName == "") {
		return "", ""
	}
	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName), address.PersonalName
}
