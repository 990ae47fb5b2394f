package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// testEnv wires every component against a Postgres container and an in-memory IMAP server.
type testEnv struct {
	pool     *pgxpool.Pool
	store    *db.Store
	imap     *testutil.TestIMAPServer
	gateway  *imap.Service
	hub      *ws.Hub
	sessions *mailsync.SessionManager

	auth     *AuthHandler
	settings *SettingsHandler
	sync     *SyncHandler
	folders  *FoldersHandler
	messages *MessagesHandler
	account  *AccountHandler
	ws       *WebSocketHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zerolog.Nop()
	pool := testutil.NewTestDB(t)
	store := db.NewStore(pool, testutil.GetTestEncryptor(t))
	server := testutil.NewTestIMAPServer(t)

	imapPool := imap.NewPool(2, log)
	gateway := imap.NewService(imapPool, time.Minute, log)
	t.Cleanup(gateway.Close)

	hub := ws.NewHub(10, log)
	t.Cleanup(hub.Close)

	syncer := mailsync.NewSynchronizer(store, gateway, hub, log)
	ingest := mailsync.NewIngestor(store, gateway, time.Minute, log)
	sessions := mailsync.NewSessionManager(mailsync.SchedulerConfig{
		Store:        store,
		Synchronizer: syncer,
		Ingestor:     ingest,
		Notifier:     hub,
		Interval:     time.Hour,
		Logger:       log,
	}, gateway)
	t.Cleanup(sessions.Close)

	accounts := mailsync.NewAccounts(store, gateway, sessions, log)

	return &testEnv{
		pool:     pool,
		store:    store,
		imap:     server,
		gateway:  gateway,
		hub:      hub,
		sessions: sessions,
		auth:     NewAuthHandler(pool, log),
		settings: NewSettingsHandler(pool, accounts, mailsync.NewProber(gateway, log), log),
		sync:     NewSyncHandler(pool, store, sessions, log),
		folders:  NewFoldersHandler(pool, store, syncer, log),
		messages: NewMessagesHandler(pool, mailsync.NewRetriever(store, ingest, hub, log), log),
		account:  NewAccountHandler(pool, mailsync.NewResetter(store, gateway, sessions, hub, log), log),
		ws:       NewWebSocketHandler(pool, hub, sessions, log),
	}
}

// settingsRequest points at the test IMAP server.
func (e *testEnv) settingsRequest() models.AccountSettingsRequest {
	return models.AccountSettingsRequest{
		Host:              e.imap.Host(),
		Port:              e.imap.Port(),
		Username:          e.imap.Username(),
		Secret:            e.imap.Password(),
		TransportSecurity: models.TransportNone,
		TimeoutMs:         models.MinTimeoutMs,
	}
}

// configure saves working settings for the user and returns the user id.
func (e *testEnv) configure(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(e.settings.PostSettings, http.MethodPost, "/api/v1/settings", email, e.settingsRequest())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return e.userID(t, email)
}

func (e *testEnv) userID(t *testing.T, email string) string {
	t.Helper()
	userID, err := db.GetOrCreateUser(context.Background(), e.pool, email)
	require.NoError(t, err)
	return userID
}

// do calls a handler as the given user. body, when not nil, is sent as JSON.
func (e *testEnv) do(handler http.HandlerFunc, method, url, email string, body any) *httptest.ResponseRecorder {
	return doRequest(handler, createRequestWithUser(method, url, email, body))
}

func doRequest(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, url, &buf)
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}
