package mailsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// Polling bounds for require.Eventually.
const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeStore is an in-memory Store. failOn makes the named method return the error.
type fakeStore struct {
	mu          sync.Mutex
	settings    map[string]*models.AccountSettings
	states      map[string]*models.SyncAccountState
	folders     []*models.Folder
	messages    map[string]*models.Message
	attachments map[string]*models.Attachment
	cursors     map[string]*models.FolderSyncCursor
	syncTimes   map[string]time.Time
	failOn      map[string]error
	clock       time.Time
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:    make(map[string]*models.AccountSettings),
		states:      make(map[string]*models.SyncAccountState),
		messages:    make(map[string]*models.Message),
		attachments: make(map[string]*models.Attachment),
		cursors:     make(map[string]*models.FolderSyncCursor),
		syncTimes:   make(map[string]time.Time),
		failOn:      make(map[string]error),
		clock:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) fail(method string) error {
	return s.failOn[method]
}

func (s *fakeStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func cursorKey(userID, path string) string {
	return userID + "|" + path
}

// configure saves settings and marks the account configured, like a settings save does.
func (s *fakeStore) configure(userID string) *models.AccountSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := &models.AccountSettings{
		UserID:               userID,
		Host:                 "imap.example.com",
		Port:                 993,
		Username:             "alice@example.com",
		Secret:               "hunter2",
		TransportSecurity:    models.TransportTLS,
		TimeoutMs:            models.DefaultTimeoutMs,
		MaxMessagesPerFolder: models.DefaultMessagesPerFolder,
	}
	s.settings[userID] = settings
	s.states[userID] = &models.SyncAccountState{UserID: userID, Configured: true, SyncEnabled: true}
	return settings
}

func (s *fakeStore) state(userID string) models.SyncAccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[userID]; ok {
		return *st
	}
	return models.SyncAccountState{UserID: userID}
}

func (s *fakeStore) folderRows(userID string) []models.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.Folder
	for _, f := range s.folders {
		if f.UserID == userID {
			rows = append(rows, *f)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	return rows
}

// insertFolderRow adds a row unconditionally, the way an overlapping sync could.
func (s *fakeStore) insertFolderRow(folder models.Folder) *models.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := folder
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.tick()
	}
	if f.Type == "" {
		f.Type = models.FolderCustom
	}
	s.folders = append(s.folders, &f)
	return &f
}

func (s *fakeStore) AccountSettingsExist(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AccountSettingsExist"); err != nil {
		return false, err
	}
	_, ok := s.settings[userID]
	return ok, nil
}

func (s *fakeStore) GetAccountSettings(_ context.Context, userID string) (*models.AccountSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAccountSettings"); err != nil {
		return nil, err
	}
	settings, ok := s.settings[userID]
	if !ok {
		return nil, db.ErrAccountSettingsNotFound
	}
	copied := *settings
	return &copied, nil
}

func (s *fakeStore) SaveAccountSettings(_ context.Context, settings *models.AccountSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveAccountSettings"); err != nil {
		return err
	}
	copied := *settings
	s.settings[settings.UserID] = &copied
	return nil
}

func (s *fakeStore) GetSyncState(_ context.Context, userID string) (*models.SyncAccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSyncState"); err != nil {
		return nil, err
	}
	if st, ok := s.states[userID]; ok {
		copied := *st
		return &copied, nil
	}
	return &models.SyncAccountState{UserID: userID}, nil
}

func (s *fakeStore) stateFor(userID string) *models.SyncAccountState {
	st, ok := s.states[userID]
	if !ok {
		st = &models.SyncAccountState{UserID: userID}
		s.states[userID] = st
	}
	return st
}

func (s *fakeStore) MarkConfigured(_ context.Context, userID string, lastSyncAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkConfigured"); err != nil {
		return err
	}
	st := s.stateFor(userID)
	st.Configured = true
	st.SyncEnabled = true
	if lastSyncAt != nil {
		at := *lastSyncAt
		st.LastSyncAt = &at
	}
	return nil
}

func (s *fakeStore) RecordSyncSuccess(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordSyncSuccess"); err != nil {
		return err
	}
	st := s.stateFor(userID)
	st.LastSyncAt = &at
	st.LastError = nil
	return nil
}

func (s *fakeStore) RecordSyncFailure(_ context.Context, userID string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordSyncFailure"); err != nil {
		return err
	}
	st := s.stateFor(userID)
	st.LastSyncAt = &at
	st.LastError = &reason
	return nil
}

func (s *fakeStore) ListFolders(_ context.Context, userID string) ([]*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListFolders"); err != nil {
		return nil, err
	}
	var out []*models.Folder
	for _, f := range s.folders {
		if f.UserID == userID {
			copied := *f
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *fakeStore) UpsertFolder(_ context.Context, folder *models.Folder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertFolder"); err != nil {
		return false, err
	}

	var matched *models.Folder
	for _, f := range s.folders {
		if f.UserID == folder.UserID && f.Path == folder.Path {
			f.Name = folder.Name
			f.Type = folder.Type
			f.Flags = append([]string(nil), folder.Flags...)
			f.TotalMessages = folder.TotalMessages
			f.UnreadMessages = folder.UnreadMessages
			f.UpdatedAt = s.tick()
			if matched == nil {
				matched = f
			}
		}
	}
	if matched != nil {
		*folder = *matched
		return false, nil
	}

	stored := *folder
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.tick()
	stored.UpdatedAt = stored.CreatedAt
	s.folders = append(s.folders, &stored)
	*folder = stored
	return true, nil
}

func (s *fakeStore) DeleteFolderByID(_ context.Context, userID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteFolderByID"); err != nil {
		return err
	}
	kept := s.folders[:0]
	for _, f := range s.folders {
		if !(f.UserID == userID && f.ID == folderID) {
			kept = append(kept, f)
		}
	}
	s.folders = kept
	return nil
}

func (s *fakeStore) DeleteFolderByPath(_ context.Context, userID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteFolderByPath"); err != nil {
		return err
	}
	kept := s.folders[:0]
	for _, f := range s.folders {
		if !(f.UserID == userID && f.Path == path) {
			kept = append(kept, f)
		}
	}
	s.folders = kept
	s.deleteMessagesLocked(userID, path)
	delete(s.cursors, cursorKey(userID, path))
	return nil
}

func (s *fakeStore) deleteMessagesLocked(userID, path string) {
	for id, m := range s.messages {
		if m.UserID == userID && (path == "" || m.FolderPath == path) {
			s.deleteMessageLocked(id)
		}
	}
}

// deleteMessageLocked removes a message and, like the attachments foreign key, its attachments.
func (s *fakeStore) deleteMessageLocked(id string) {
	delete(s.messages, id)
	for attID, a := range s.attachments {
		if a.MessageID == id {
			delete(s.attachments, attID)
		}
	}
}

func (s *fakeStore) messageCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.UserID == userID {
			n++
		}
	}
	return n
}

func (s *fakeStore) ListMessages(_ context.Context, userID, folderPath string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListMessages"); err != nil {
		return nil, err
	}
	var out []*models.Message
	for _, m := range s.messages {
		if m.UserID == userID && m.FolderPath == folderPath {
			copied := *m
			copied.UnsafeBodyHTML = ""
			copied.BodyText = ""
			copied.Attachments = nil
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMAPUID > out[j].IMAPUID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetMessage(_ context.Context, userID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetMessage"); err != nil {
		return nil, err
	}
	m, ok := s.messages[messageID]
	if !ok || m.UserID != userID {
		return nil, db.ErrMessageNotFound
	}
	copied := *m
	copied.Attachments = nil
	return &copied, nil
}

func (s *fakeStore) SaveMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveMessage"); err != nil {
		return err
	}
	for _, m := range s.messages {
		if m.UserID == message.UserID && m.FolderPath == message.FolderPath && m.IMAPUID == message.IMAPUID {
			if m.MessageIDHeader != message.MessageIDHeader {
				s.deleteMessageLocked(m.ID)
				break
			}
			read := m.IsRead || message.IsRead
			id := m.ID
			*m = *message
			m.ID = id
			m.IsRead = read
			message.ID = id
			message.IsRead = read
			return nil
		}
	}
	stored := *message
	stored.ID = uuid.NewString()
	for i := range stored.Attachments {
		att := stored.Attachments[i]
		att.ID = uuid.NewString()
		att.MessageID = stored.ID
		s.attachments[att.ID] = &att
	}
	stored.Attachments = nil
	s.messages[stored.ID] = &stored
	message.ID = stored.ID
	return nil
}

func (s *fakeStore) DeleteFolderMessages(_ context.Context, userID, folderPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteFolderMessages"); err != nil {
		return err
	}
	s.deleteMessagesLocked(userID, folderPath)
	return nil
}

func (s *fakeStore) MarkMessageRead(_ context.Context, userID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkMessageRead"); err != nil {
		return false, err
	}
	m, ok := s.messages[messageID]
	if !ok || m.UserID != userID || m.IsRead {
		return false, nil
	}
	m.IsRead = true
	for _, f := range s.folders {
		if f.UserID == userID && f.Path == m.FolderPath && f.UnreadMessages > 0 {
			f.UnreadMessages--
		}
	}
	return true, nil
}

func (s *fakeStore) ListAttachments(_ context.Context, messageID string) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListAttachments"); err != nil {
		return nil, err
	}
	var out []models.Attachment
	for _, a := range s.attachments {
		if a.MessageID == messageID {
			copied := *a
			copied.Body = nil
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s *fakeStore) GetAttachment(_ context.Context, userID, attachmentID string) (*models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAttachment"); err != nil {
		return nil, err
	}
	a, ok := s.attachments[attachmentID]
	if !ok {
		return nil, db.ErrAttachmentNotFound
	}
	if m, ok := s.messages[a.MessageID]; !ok || m.UserID != userID {
		return nil, db.ErrAttachmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) GetFolderSyncCursor(_ context.Context, userID, folderPath string) (*models.FolderSyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetFolderSyncCursor"); err != nil {
		return nil, err
	}
	c, ok := s.cursors[cursorKey(userID, folderPath)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *fakeStore) SaveFolderSyncCursor(_ context.Context, cursor *models.FolderSyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveFolderSyncCursor"); err != nil {
		return err
	}
	copied := *cursor
	s.cursors[cursorKey(cursor.UserID, cursor.FolderPath)] = &copied
	s.syncTimes[cursorKey(cursor.UserID, cursor.FolderPath)] = cursor.SyncedAt
	return nil
}

func (s *fakeStore) GetFolderSyncTime(_ context.Context, userID, folderPath string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetFolderSyncTime"); err != nil {
		return nil, err
	}
	at, ok := s.syncTimes[cursorKey(userID, folderPath)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (s *fakeStore) ClearMailboxCache(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClearMailboxCache"); err != nil {
		return err
	}
	s.clearMailboxLocked(userID)
	return nil
}

func (s *fakeStore) clearMailboxLocked(userID string) {
	s.deleteMessagesLocked(userID, "")
	for key, c := range s.cursors {
		if c.UserID == userID {
			delete(s.cursors, key)
		}
	}
	s.clearSyncTimesLocked(userID)
}

func (s *fakeStore) clearSyncTimesLocked(userID string) {
	prefix := cursorKey(userID, "")
	for key := range s.syncTimes {
		if strings.HasPrefix(key, prefix) {
			delete(s.syncTimes, key)
		}
	}
}

func (s *fakeStore) ClearProviderCursors(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClearProviderCursors"); err != nil {
		return err
	}
	for key, c := range s.cursors {
		if c.UserID == userID {
			delete(s.cursors, key)
		}
	}
	return nil
}

func (s *fakeStore) cursorCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cursors {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

func (s *fakeStore) CleanupFolders(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CleanupFolders"); err != nil {
		return err
	}
	s.cleanupLocked(userID)
	return nil
}

func (s *fakeStore) cleanupLocked(userID string) {
	kept := s.folders[:0]
	for _, f := range s.folders {
		if f.UserID != userID {
			kept = append(kept, f)
		}
	}
	s.folders = kept
	s.clearSyncTimesLocked(userID)
	st := s.stateFor(userID)
	st.LastSyncAt = nil
	st.LastError = nil
}

func (s *fakeStore) ResetAccount(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ResetAccount"); err != nil {
		return err
	}
	s.cleanupLocked(userID)
	s.clearMailboxLocked(userID)
	st := s.stateFor(userID)
	st.Configured = false
	st.SyncEnabled = false
	return nil
}

// fakeGateway is a scriptable imap.Gateway holding a remote folder list.
type fakeGateway struct {
	mu        sync.Mutex
	remote    []imap.RemoteFolder
	probeErr  error
	listErr   error
	createErr error
	deleteErr error
	fetch     func(path string, afterUID uint32, limit int) (*imap.FetchResult, error)
	watch     func(ctx context.Context, creds imap.Credentials, onChange func())

	// listGate, when set, blocks ListFolders until it is closed.
	listGate chan struct{}
	// listEntered receives a value each time ListFolders starts.
	listEntered chan struct{}

	probeCalls   int
	listCalls    int
	forceRefresh []bool
	forgotten    []string
	lastCreds    imap.Credentials
	hadDeadline  bool
}

var _ imap.Gateway = (*fakeGateway)(nil)

func newFakeGateway(remote ...imap.RemoteFolder) *fakeGateway {
	return &fakeGateway{remote: remote}
}

func (g *fakeGateway) Probe(ctx context.Context, creds imap.Credentials) error {
	g.mu.Lock()
	g.probeCalls++
	g.lastCreds = creds
	_, g.hadDeadline = ctx.Deadline()
	err := g.probeErr
	g.mu.Unlock()

	if errors.Is(err, context.DeadlineExceeded) {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (g *fakeGateway) ListFolders(ctx context.Context, creds imap.Credentials, forceRefresh bool) ([]imap.RemoteFolder, error) {
	g.mu.Lock()
	g.listCalls++
	g.forceRefresh = append(g.forceRefresh, forceRefresh)
	g.lastCreds = creds
	_, g.hadDeadline = ctx.Deadline()
	gate, entered := g.listGate, g.listEntered
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]imap.RemoteFolder(nil), g.remote...), nil
}

func (g *fakeGateway) CreateFolder(_ context.Context, _ imap.Credentials, name string) (imap.RemoteFolder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return imap.RemoteFolder{}, g.createErr
	}
	folder := imap.RemoteFolder{Path: name, Name: name, Flags: []string{`\HasNoChildren`}}
	g.remote = append(g.remote, folder)
	return folder, nil
}

func (g *fakeGateway) DeleteFolder(_ context.Context, _ imap.Credentials, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	kept := g.remote[:0]
	for _, f := range g.remote {
		if f.Path != path {
			kept = append(kept, f)
		}
	}
	g.remote = kept
	return nil
}

func (g *fakeGateway) FetchMessages(_ context.Context, _ imap.Credentials, path string, afterUID uint32, limit int) (*imap.FetchResult, error) {
	g.mu.Lock()
	fetch := g.fetch
	g.mu.Unlock()
	if fetch == nil {
		return &imap.FetchResult{UIDValidity: 1}, nil
	}
	return fetch(path, afterUID, limit)
}

func (g *fakeGateway) WatchInbox(ctx context.Context, creds imap.Credentials, onChange func()) {
	g.mu.Lock()
	watch := g.watch
	g.mu.Unlock()
	if watch != nil {
		watch(ctx, creds, onChange)
		return
	}
	<-ctx.Done()
}

func (g *fakeGateway) Forget(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgotten = append(g.forgotten, userID)
}

func (g *fakeGateway) setRemote(remote ...imap.RemoteFolder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remote = remote
}

func (g *fakeGateway) calls() (probe, list int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probeCalls, g.listCalls
}

// recordingNotifier remembers every invalidation.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Invalidate(userID, kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+":"+kind)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

func inbox() imap.RemoteFolder {
	return imap.RemoteFolder{Path: "INBOX", Name: "INBOX", SpecialUse: `\Inbox`, TotalMessages: 12, UnreadMessages: 3}
}

func remoteFolder(path, specialUse string, total int) imap.RemoteFolder {
	return imap.RemoteFolder{Path: path, Name: path, SpecialUse: specialUse, TotalMessages: total}
}

func newTestSynchronizer(store *fakeStore, gateway *fakeGateway, notifier Notifier) *Synchronizer {
	return NewSynchronizer(store, gateway, notifier, zerolog.Nop())
}
