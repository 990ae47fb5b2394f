package mailsync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// remoteMailbox serves FetchMessages from a fixed set of UIDs.
type remoteMailbox struct {
	uidValidity uint32
	uids        []uint32
	calls       []uint32
	limits      []int
}

func (m *remoteMailbox) fetch(_ string, afterUID uint32, limit int) (*imap.FetchResult, error) {
	m.calls = append(m.calls, afterUID)
	m.limits = append(m.limits, limit)

	var newer []uint32
	for _, uid := range m.uids {
		if uid > afterUID {
			newer = append(newer, uid)
		}
	}
	if len(newer) > limit {
		newer = newer[len(newer)-limit:]
	}

	result := &imap.FetchResult{UIDValidity: m.uidValidity}
	for _, uid := range newer {
		result.Messages = append(result.Messages, &models.Message{
			IMAPUID: int64(uid),
			Subject: "message",
		})
	}
	return result, nil
}

func newTestIngestor(store *fakeStore, gateway *fakeGateway, ttl time.Duration) *Ingestor {
	return NewIngestor(store, gateway, ttl, zerolog.Nop())
}

func TestSyncFolderMessages(t *testing.T) {
	store := newFakeStore()
	settings := store.configure("user-1")
	settings.MaxMessagesPerFolder = 2
	require.NoError(t, store.SaveAccountSettings(context.Background(), settings))

	mailbox := &remoteMailbox{uidValidity: 7, uids: []uint32{1, 2, 3, 4}}
	gateway := newFakeGateway()
	gateway.fetch = mailbox.fetch
	ingest := newTestIngestor(store, gateway, time.Minute)
	ctx := context.Background()

	n, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2}, mailbox.limits)

	cursor, err := store.GetFolderSyncCursor(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, int64(7), cursor.UIDValidity)
	assert.Equal(t, int64(4), cursor.LastSyncedUID)

	messages, err := store.ListMessages(ctx, "user-1", "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(4), messages[0].IMAPUID)
	assert.Equal(t, "INBOX", messages[0].FolderPath)

	t.Run("next run continues after the cursor", func(t *testing.T) {
		mailbox.uids = append(mailbox.uids, 5)

		n, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, uint32(4), mailbox.calls[len(mailbox.calls)-1])

		messages, err := store.ListMessages(ctx, "user-1", "INBOX", 10)
		require.NoError(t, err)
		assert.Len(t, messages, 3)
	})

	t.Run("nothing new keeps the cursor", func(t *testing.T) {
		n, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.Zero(t, n)

		cursor, err := store.GetFolderSyncCursor(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.Equal(t, int64(5), cursor.LastSyncedUID)
	})

	t.Run("UID validity change re-ingests the folder", func(t *testing.T) {
		mailbox.uidValidity = 8
		mailbox.uids = []uint32{1}

		n, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, uint32(0), mailbox.calls[len(mailbox.calls)-1])

		messages, err := store.ListMessages(ctx, "user-1", "INBOX", 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, int64(1), messages[0].IMAPUID)

		cursor, err := store.GetFolderSyncCursor(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.Equal(t, int64(8), cursor.UIDValidity)
		assert.Equal(t, int64(1), cursor.LastSyncedUID)
	})
}

func TestSyncFolderMessagesKeepsReadState(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	mailbox := &remoteMailbox{uidValidity: 1, uids: []uint32{1}}
	gateway := newFakeGateway()
	gateway.fetch = mailbox.fetch
	ingest := newTestIngestor(store, gateway, time.Minute)
	ctx := context.Background()

	_, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	messages, err := store.ListMessages(ctx, "user-1", "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	changed, err := store.MarkMessageRead(ctx, "user-1", messages[0].ID)
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, store.ClearProviderCursors(ctx, "user-1"))
	_, err = ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
	require.NoError(t, err)

	msg, err := store.GetMessage(ctx, "user-1", messages[0].ID)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
}

func TestSyncFolderMessagesNotConfigured(t *testing.T) {
	ingest := newTestIngestor(newFakeStore(), newFakeGateway(), time.Minute)
	_, err := ingest.SyncFolderMessages(context.Background(), "user-1", "INBOX")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestShouldSyncFolder(t *testing.T) {
	store := newFakeStore()
	ingest := newTestIngestor(store, newFakeGateway(), 5*time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ingest.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := ingest.ShouldSyncFolder(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	assert.True(t, stale, "never synced")

	require.NoError(t, store.SaveFolderSyncCursor(ctx, &models.FolderSyncCursor{
		UserID: "user-1", FolderPath: "INBOX", SyncedAt: now.Add(-time.Minute),
	}))
	stale, err = ingest.ShouldSyncFolder(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	assert.False(t, stale)

	now = now.Add(5 * time.Minute)
	stale, err = ingest.ShouldSyncFolder(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	assert.True(t, stale)

	t.Run("stale right after cleanup", func(t *testing.T) {
		require.NoError(t, store.SaveFolderSyncCursor(ctx, &models.FolderSyncCursor{
			UserID: "user-1", FolderPath: "INBOX", SyncedAt: now,
		}))
		stale, err := ingest.ShouldSyncFolder(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		require.False(t, stale)

		require.NoError(t, store.CleanupFolders(ctx, "user-1"))
		stale, err = ingest.ShouldSyncFolder(ctx, "user-1", "INBOX")
		require.NoError(t, err)
		assert.True(t, stale)
	})
}

func TestSyncFolderMessagesReplacesReusedUID(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	served := []*models.Message{{
		IMAPUID:         1,
		MessageIDHeader: "<old@example.com>",
		Subject:         "old",
		Attachments:     []models.Attachment{{Filename: "old.pdf", Body: []byte("old")}},
	}}
	gateway := newFakeGateway()
	gateway.fetch = func(string, uint32, int) (*imap.FetchResult, error) {
		return &imap.FetchResult{UIDValidity: 1, Messages: served}, nil
	}
	ingest := newTestIngestor(store, gateway, time.Minute)
	ctx := context.Background()

	_, err := ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
	require.NoError(t, err)
	messages, err := store.ListMessages(ctx, "user-1", "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	_, err = store.MarkMessageRead(ctx, "user-1", messages[0].ID)
	require.NoError(t, err)

	served = []*models.Message{{
		IMAPUID:         1,
		MessageIDHeader: "<new@example.com>",
		Subject:         "new",
		Attachments:     []models.Attachment{{Filename: "new.txt", Body: []byte("new")}},
	}}
	_, err = ingest.SyncFolderMessages(ctx, "user-1", "INBOX")
	require.NoError(t, err)

	messages, err = store.ListMessages(ctx, "user-1", "INBOX", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "new", messages[0].Subject)
	assert.False(t, messages[0].IsRead, "a different message does not inherit the read flag")

	atts, err := store.ListAttachments(ctx, messages[0].ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "new.txt", atts[0].Filename)
}
