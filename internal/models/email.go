package models

import (
	"strings"
	"time"
)

// FolderType is the role of a folder in the mailbox.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// SpecialFolderTypes lists the special-use roles in classification priority order.
var SpecialFolderTypes = []FolderType{
	FolderInbox,
	FolderSent,
	FolderDrafts,
	FolderTrash,
	FolderSpam,
	FolderArchive,
}

// IsSpecial reports whether the type is a special-use role rather than a user folder.
func (t FolderType) IsSpecial() bool {
	return t != FolderCustom && t != ""
}

// ParseFolderType maps a stored string back to a FolderType, defaulting to custom.
func ParseFolderType(s string) FolderType {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range SpecialFolderTypes {
		if string(t) == s {
			return t
		}
	}
	return FolderCustom
}

type Folder struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	Type           FolderType `json:"type"`
	Flags          []string   `json:"flags"`
	TotalMessages  int        `json:"total_messages"`
	UnreadMessages int        `json:"unread_messages"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Message struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	FolderPath      string       `json:"folder_path"`
	IMAPUID         int64        `json:"imap_uid"`
	MessageIDHeader string       `json:"message_id_header"`
	Subject         string       `json:"subject"`
	FromAddress     string       `json:"from_address"`
	FromName        string       `json:"from_name"`
	ToAddress       string       `json:"to_address"`
	ToName          string       `json:"to_name"`
	CC              []string     `json:"cc"`
	SentAt          *time.Time   `json:"sent_at"`
	IsRead          bool         `json:"is_read"`
	IsStarred       bool         `json:"is_starred"`
	HasAttachments  bool         `json:"has_attachments"`
	UnsafeBodyHTML  string       `json:"-"`
	BodyHTML        string       `json:"body_html,omitempty"`
	BodyText        string       `json:"body_text,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a message attachment. Body is nil until it is loaded explicitly.
type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	IsInline  bool   `json:"is_inline"`
	ContentID string `json:"content_id,omitempty"`
	Body      []byte `json:"-"`
}

// FolderSyncCursor records how far message ingestion got in a remote folder.
type FolderSyncCursor struct {
	UserID        string
	FolderPath    string
	UIDValidity   int64
	LastSyncedUID int64
	SyncedAt      time.Time
}
