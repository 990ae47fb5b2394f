package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/logging"
	"github.com/vdavid/mailsync/internal/mailsync"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.CloseConnection(pool)

	log.Info().Msg("Successfully connected to database")

	server, err := NewServer(cfg, pool, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", httpServer.Addr).
			Str("environment", cfg.Environment).
			Msg("mailsync server starting")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}

// Server is the mailsync HTTP API together with the background components it owns.
type Server struct {
	http.Handler

	sessions *mailsync.SessionManager
	hub      *ws.Hub
	gateway  *imap.Service
}

// NewServer wires every component and registers the API routes.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, log zerolog.Logger) (*Server, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	store := db.NewStore(dbPool, encryptor)

	imapPool := imap.NewPool(cfg.IMAPMaxWorkers, log)
	gateway := imap.NewService(imapPool, cfg.FolderCacheTTL, log)
	hub := ws.NewHub(cfg.WSMaxPerUser, log)

	syncer := mailsync.NewSynchronizer(store, gateway, hub, log)
	ingest := mailsync.NewIngestor(store, gateway, cfg.MessageCacheTTL, log)
	sessions := mailsync.NewSessionManager(mailsync.SchedulerConfig{
		Store:        store,
		Synchronizer: syncer,
		Ingestor:     ingest,
		Notifier:     hub,
		Interval:     cfg.SyncInterval,
		Logger:       log,
	}, gateway)

	accounts := mailsync.NewAccounts(store, gateway, sessions, log)
	prober := mailsync.NewProber(gateway, log)
	retriever := mailsync.NewRetriever(store, ingest, hub, log)
	resetter := mailsync.NewResetter(store, gateway, sessions, hub, log)

	authHandler := api.NewAuthHandler(dbPool, log)
	settingsHandler := api.NewSettingsHandler(dbPool, accounts, prober, log)
	syncHandler := api.NewSyncHandler(dbPool, store, sessions, log)
	foldersHandler := api.NewFoldersHandler(dbPool, store, syncer, log)
	messagesHandler := api.NewMessagesHandler(dbPool, retriever, log)
	accountHandler := api.NewAccountHandler(dbPool, resetter, log)
	wsHandler := api.NewWebSocketHandler(dbPool, hub, sessions, log)

	requireAuth := auth.RequireAuth(log)
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(h))
	}

	mux.HandleFunc("GET /{$}", handleRoot)

	handle("GET /api/v1/auth/status", authHandler.GetAuthStatus)

	handle("GET /api/v1/settings", settingsHandler.GetSettings)
	handle("POST /api/v1/settings", settingsHandler.PostSettings)
	handle("POST /api/v1/settings/test", settingsHandler.TestSettings)

	handle("POST /api/v1/sync", syncHandler.PostSync)
	handle("GET /api/v1/sync/status", syncHandler.GetStatus)

	handle("GET /api/v1/folders", foldersHandler.GetFolders)
	handle("POST /api/v1/folders", foldersHandler.PostFolder)
	handle("DELETE /api/v1/folders", foldersHandler.DeleteFolder)

	handle("GET /api/v1/messages", messagesHandler.GetMessages)
	handle("GET /api/v1/messages/{id}", messagesHandler.GetMessage)
	handle("GET /api/v1/attachments/{id}", messagesHandler.GetAttachment)

	handle("POST /api/v1/account/cleanup", accountHandler.PostCleanup)
	handle("POST /api/v1/account/reset", accountHandler.PostReset)

	// Browsers can't set headers on WebSocket connections, so the handler
	// authenticates from the query string itself.
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	return &Server{
		Handler:  mux,
		sessions: sessions,
		hub:      hub,
		gateway:  gateway,
	}, nil
}

// Close stops every user's scheduler, disconnects WebSocket clients and drops pooled
// IMAP connections.
func (s *Server) Close() {
	s.sessions.Close()
	s.hub.Close()
	s.gateway.Close()
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync API is running")
}
