package imap

import (
	"context"
	"errors"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

const (
	// idlePollInterval is the NOOP interval used when the server does not support IDLE.
	idlePollInterval = 30 * time.Second
	// idleRetryMin and idleRetryMax bound the backoff after the IDLE loop fails.
	idleRetryMin = 5 * time.Second
	idleRetryMax = 5 * time.Minute
)

var errIdleEnded = errors.New("idle ended unexpectedly")

// WatchInbox runs an IDLE loop on INBOX and calls onChange when new mail arrives.
// Failures are retried with backoff until ctx is cancelled.
func (s *Service) WatchInbox(ctx context.Context, creds Credentials, onChange func()) {
	log := s.log.With().Str("user_id", creds.UserID).Logger()
	backoff := idleRetryMin

	for ctx.Err() == nil {
		started := time.Now()
		err := s.watchOnce(ctx, creds, onChange)
		if ctx.Err() != nil {
			return
		}

		// A loop that ran for a while before failing resets the backoff.
		if time.Since(started) > idleRetryMax {
			backoff = idleRetryMin
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("IMAP IDLE loop stopped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, idleRetryMax)
	}
}

// watchOnce holds the user's listener connection for one IDLE session.
func (s *Service) watchOnce(ctx context.Context, creds Credentials, onChange func()) error {
	conn, err := s.pool.listener(ctx, creds)
	if err != nil {
		return err
	}
	defer conn.Unlock()

	c := conn.client
	if err := runWithContext(ctx, c, func() error {
		_, err := c.Select("INBOX", true)
		return err
	}); err != nil {
		s.pool.removeListener(creds.UserID, conn)
		return newGatewayError("idle", err)
	}

	updates := make(chan client.Update, 16)
	c.Updates = updates
	// IDLE blocks for minutes; the per-command timeout would cut it short.
	c.Timeout = 0
	defer func() {
		c.Updates = nil
		c.Timeout = creds.timeout()
		conn.lastUsed = time.Now()
	}()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, idlePollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			select {
			case <-done:
			case <-time.After(creds.timeout()):
				_ = c.Terminate()
				s.pool.removeListener(creds.UserID, conn)
			}
			return nil
		case err := <-done:
			s.pool.removeListener(creds.UserID, conn)
			if err == nil {
				err = errIdleEnded
			}
			_ = c.Terminate()
			return newGatewayError("idle", err)
		case update := <-updates:
			if isNewMail(update) {
				onChange()
			}
		}
	}
}

// isNewMail reports whether an unsolicited update says INBOX has messages.
func isNewMail(update client.Update) bool {
	mboxUpdate, ok := update.(*client.MailboxUpdate)
	if !ok || mboxUpdate.Mailbox == nil {
		return false
	}
	return mboxUpdate.Mailbox.Name == "INBOX" && mboxUpdate.Mailbox.Messages > 0
}
