package imap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// RFC 6154 special-use attributes, plus the INBOX marker used internally.
const (
	attrInbox    = `\Inbox`
	attrSent     = `\Sent`
	attrDrafts   = `\Drafts`
	attrTrash    = `\Trash`
	attrJunk     = `\Junk`
	attrArchive  = `\Archive`
	attrAll      = `\All`
	attrNoSelect = `\Noselect`
)

var specialUseAttrs = map[string]bool{
	strings.ToLower(attrSent):    true,
	strings.ToLower(attrDrafts):  true,
	strings.ToLower(attrTrash):   true,
	strings.ToLower(attrJunk):    true,
	strings.ToLower(attrArchive): true,
	strings.ToLower(attrAll):     true,
}

// wellKnownNames maps common folder names to a special-use marker, for servers that do
// not advertise SPECIAL-USE. Keys are lower-case leaf names.
var wellKnownNames = map[string]string{
	"sent":             attrSent,
	"sent items":       attrSent,
	"sent messages":    attrSent,
	"sent mail":        attrSent,
	"drafts":           attrDrafts,
	"draft":            attrDrafts,
	"trash":            attrTrash,
	"deleted items":    attrTrash,
	"deleted messages": attrTrash,
	"bin":              attrTrash,
	"junk":             attrJunk,
	"junk e-mail":      attrJunk,
	"junk email":       attrJunk,
	"spam":             attrJunk,
	"bulk mail":        attrJunk,
	"archive":          attrArchive,
	"archives":         attrArchive,
	"all mail":         attrAll,
}

// listMailboxes runs LIST "" "*" and returns the selectable mailboxes.
func listMailboxes(c *client.Client) ([]*imap.MailboxInfo, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var result []*imap.MailboxInfo
	for m := range mailboxes {
		if hasAttr(m.Attributes, attrNoSelect) {
			continue
		}
		result = append(result, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return result, nil
}

// toRemoteFolder builds a RemoteFolder from a LIST entry, without counts. The display
// name is the full mailbox name, so a nested folder keeps the name it was created with.
func toRemoteFolder(info *imap.MailboxInfo) RemoteFolder {
	return RemoteFolder{
		Path:       info.Name,
		Name:       info.Name,
		SpecialUse: specialUse(info),
		Flags:      append([]string(nil), info.Attributes...),
	}
}

// specialUse returns the special-use marker of a mailbox: the RFC 6154 attribute when the
// server sends one, otherwise a guess from the folder name.
func specialUse(info *imap.MailboxInfo) string {
	if strings.EqualFold(info.Name, "INBOX") {
		return attrInbox
	}
	for _, attr := range info.Attributes {
		if specialUseAttrs[strings.ToLower(attr)] {
			return attr
		}
	}
	if marker, ok := wellKnownNames[strings.ToLower(leafName(info.Name, info.Delimiter))]; ok {
		return marker
	}
	return ""
}

// leafName returns the last hierarchy component, e.g. "[Gmail]/Sent Mail" -> "Sent Mail".
func leafName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 && i < len(path)-len(delimiter) {
		return path[i+len(delimiter):]
	}
	return path
}

func hasAttr(attrs []string, target string) bool {
	for _, attr := range attrs {
		if strings.EqualFold(attr, target) {
			return true
		}
	}
	return false
}

// folderCounts returns total and unseen message counts via STATUS.
func folderCounts(c *client.Client, path string) (total, unread int, err error) {
	status, err := c.Status(path, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get status of %s: %w", path, err)
	}
	return int(status.Messages), int(status.Unseen), nil
}
