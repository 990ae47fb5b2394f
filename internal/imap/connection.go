package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailsync/internal/models"
)

// connectionRole indicates the purpose of a connection.
type connectionRole int

const (
	// roleWorker connections serve request/response commands. A user can have several.
	roleWorker connectionRole = iota
	// roleListener is the single per-user connection parked in IDLE on INBOX.
	roleListener
)

// pooledConn wraps an IMAP client with a mutex. Different connections can be used
// concurrently, access to one connection is serialized.
type pooledConn struct {
	client   *client.Client
	mu       sync.Mutex
	lastUsed time.Time
	role     connectionRole
	credKey  string
}

func (c *pooledConn) Lock() {
	c.mu.Lock()
}

func (c *pooledConn) Unlock() {
	c.mu.Unlock()
}

// alive reports whether the session is still logged in. Caller must hold the lock.
func (c *pooledConn) alive() bool {
	state := c.client.State()
	return state == imap.AuthenticatedState || state == imap.SelectedState
}

// close logs out, falling back to dropping the socket. Caller must hold the lock.
func (c *pooledConn) close() {
	if err := c.client.Logout(); err != nil {
		_ = c.client.Terminate()
	}
}

// dialer opens an authenticated session for the given credentials.
type dialer func(ctx context.Context, creds Credentials) (*client.Client, error)

// dialAndLogin connects using the credentials' transport mode and logs in. The dial is
// bounded by ctx and creds.Timeout; later commands are bounded by client.Timeout.
func dialAndLogin(ctx context.Context, creds Credentials) (*client.Client, error) {
	netDialer := &net.Dialer{Timeout: creds.timeout()}
	tlsConfig := &tls.Config{ServerName: creds.Host, MinVersion: tls.VersionTLS12}
	addr := creds.Address()

	var conn net.Conn
	var err error
	switch creds.Security {
	case models.TransportTLS:
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	case models.TransportSTARTTLS, models.TransportNone:
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported transport security %q", creds.Security)
	}
	if err != nil {
		return nil, &GatewayError{Op: "connect", Reason: dialReason(err, addr), Err: err}
	}

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &GatewayError{Op: "connect", Reason: "server did not send a valid greeting", Err: err}
	}
	c.Timeout = creds.timeout()

	if creds.Security == models.TransportSTARTTLS {
		if err := runWithContext(ctx, c, func() error { return c.StartTLS(tlsConfig) }); err != nil {
			_ = c.Terminate()
			return nil, newGatewayError("starttls", err)
		}
	}

	if err := runWithContext(ctx, c, func() error { return c.Login(creds.Username, creds.Password) }); err != nil {
		_ = c.Terminate()
		if ctx.Err() != nil || isTimeout(err) {
			return nil, newGatewayError("login", err)
		}
		return nil, &GatewayError{Op: "login", Reason: "authentication failed", Err: err}
	}

	return c, nil
}

// runWithContext runs a blocking IMAP command and gives up when ctx ends. The
// connection is terminated in that case, so it must not be reused.
func runWithContext(ctx context.Context, c *client.Client, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.Terminate()
		<-done
		return ctx.Err()
	}
}
