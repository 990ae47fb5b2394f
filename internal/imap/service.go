package imap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/models"
)

// Service is the IMAP implementation of Gateway.
type Service struct {
	pool  *Pool
	cache *folderCache
	log   zerolog.Logger
}

var _ Gateway = (*Service)(nil)

// NewService creates a gateway on top of the pool. Folder listings are cached for cacheTTL;
// zero disables the cache.
func NewService(pool *Pool, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		pool:  pool,
		cache: newFolderCache(cacheTTL),
		log:   logger.With().Str("component", "imap_gateway").Logger(),
	}
}

// withClient runs fn on a pooled worker connection of the user.
func (s *Service) withClient(ctx context.Context, creds Credentials, op string, fn func(c *client.Client) error) error {
	conn, release, err := s.pool.acquire(ctx, creds)
	if err != nil {
		return newGatewayError(op, err)
	}
	defer release()

	if err := runWithContext(ctx, conn.client, func() error { return fn(conn.client) }); err != nil {
		return newGatewayError(op, err)
	}
	return nil
}

// Probe opens a fresh session outside the pool, so stale pooled sessions cannot mask bad settings.
func (s *Service) Probe(ctx context.Context, creds Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, creds.timeout())
	defer cancel()

	c, err := s.pool.dial(ctx, creds)
	if err != nil {
		return newGatewayError("connect", err)
	}

	if err := runWithContext(ctx, c, c.Logout); err != nil {
		_ = c.Terminate()
		s.log.Debug().Err(err).Msg("Logout after probe failed")
	}
	return nil
}

func (s *Service) ListFolders(ctx context.Context, creds Credentials, forceRefresh bool) ([]RemoteFolder, error) {
	if !forceRefresh {
		if folders, ok := s.cache.get(creds); ok {
			return folders, nil
		}
	}

	var folders []RemoteFolder
	err := s.withClient(ctx, creds, "list", func(c *client.Client) error {
		mailboxes, err := listMailboxes(c)
		if err != nil {
			return err
		}

		folders = make([]RemoteFolder, 0, len(mailboxes))
		for _, info := range mailboxes {
			folder := toRemoteFolder(info)
			folder.TotalMessages, folder.UnreadMessages, err = folderCounts(c, info.Name)
			if err != nil {
				// One unreadable folder should not hide the rest of the tree.
				s.log.Warn().Err(err).Str("folder", info.Name).Msg("Failed to get folder counts")
			}
			folders = append(folders, folder)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.put(creds, folders)
	return folders, nil
}

func (s *Service) CreateFolder(ctx context.Context, creds Credentials, name string) (RemoteFolder, error) {
	var created RemoteFolder
	err := s.withClient(ctx, creds, "create", func(c *client.Client) error {
		if err := c.Create(name); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", name, err)
		}

		created = RemoteFolder{Path: name, Name: name}
		info, err := lookupMailbox(c, name)
		if err != nil {
			return err
		}
		if info != nil {
			created = toRemoteFolder(info)
		}

		created.TotalMessages, created.UnreadMessages, err = folderCounts(c, created.Path)
		if err != nil {
			s.log.Warn().Err(err).Str("folder", created.Path).Msg("Failed to get counts of new folder")
		}
		return nil
	})
	s.cache.drop(creds.UserID)
	if err != nil {
		return RemoteFolder{}, err
	}
	return created, nil
}

func (s *Service) DeleteFolder(ctx context.Context, creds Credentials, path string) error {
	err := s.withClient(ctx, creds, "delete", func(c *client.Client) error {
		if err := c.Delete(path); err != nil {
			return fmt.Errorf("failed to delete folder %s: %w", path, err)
		}
		return nil
	})
	s.cache.drop(creds.UserID)
	return err
}

func (s *Service) FetchMessages(ctx context.Context, creds Credentials, path string, afterUID uint32, limit int) (*FetchResult, error) {
	result := &FetchResult{}
	err := s.withClient(ctx, creds, "fetch", func(c *client.Client) error {
		mbox, err := c.Select(path, true)
		if err != nil {
			return fmt.Errorf("failed to select folder %s: %w", path, err)
		}
		result.UIDValidity = mbox.UidValidity

		uids, err := newUIDs(c, afterUID, limit)
		if err != nil {
			return err
		}

		fetched, err := fetchFull(c, uids)
		if err != nil {
			return err
		}

		result.Messages = make([]*models.Message, 0, len(fetched))
		for _, imapMsg := range fetched {
			msg, err := ParseMessage(imapMsg, creds.UserID, path)
			if err != nil {
				s.log.Warn().Err(err).Str("folder", path).Uint32("uid", imapMsg.Uid).Msg("Keeping message without body")
			}
			result.Messages = append(result.Messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Forget closes the user's connections and drops their cached folders.
func (s *Service) Forget(userID string) {
	s.pool.Remove(userID)
	s.cache.drop(userID)
}

// Close shuts down every pooled connection.
func (s *Service) Close() {
	s.pool.Close()
}

// lookupMailbox returns the LIST entry of exactly path, or nil if the server does not list it.
func lookupMailbox(c *client.Client, path string) (*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 4)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", path, mailboxes)
	}()

	var found *imap.MailboxInfo
	for m := range mailboxes {
		if found == nil && strings.EqualFold(m.Name, path) {
			found = m
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", path, err)
	}
	return found, nil
}
