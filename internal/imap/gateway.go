package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vdavid/mailsync/internal/models"
)

// Gateway is the remote mailbox as seen by the sync engine. Every failure is a *GatewayError.
type Gateway interface {
	// Probe opens a session with the credentials and closes it again.
	Probe(ctx context.Context, creds Credentials) error

	// ListFolders returns the remote folder tree with message counts. Results are cached
	// per user; forceRefresh bypasses and refreshes the cache.
	ListFolders(ctx context.Context, creds Credentials, forceRefresh bool) ([]RemoteFolder, error)

	// CreateFolder creates a folder and returns it as the server reports it.
	CreateFolder(ctx context.Context, creds Credentials, name string) (RemoteFolder, error)

	// DeleteFolder removes a folder on the server.
	DeleteFolder(ctx context.Context, creds Credentials, path string) error

	// FetchMessages returns up to limit of the newest messages with a UID above afterUID.
	FetchMessages(ctx context.Context, creds Credentials, path string, afterUID uint32, limit int) (*FetchResult, error)

	// WatchInbox parks a dedicated connection in IDLE on INBOX and calls onChange when
	// the server reports new mail. It blocks until ctx is cancelled.
	WatchInbox(ctx context.Context, creds Credentials, onChange func())

	// Forget drops pooled connections and cached folders of the user.
	Forget(userID string)
}

// Credentials is everything needed to open a session for one user.
type Credentials struct {
	UserID   string
	Host     string
	Port     int
	Username string
	Password string
	Security models.TransportSecurity
	Timeout  time.Duration
}

// CredentialsFromSettings builds gateway credentials from decrypted account settings.
func CredentialsFromSettings(settings *models.AccountSettings) Credentials {
	return Credentials{
		UserID:   settings.UserID,
		Host:     settings.Host,
		Port:     settings.EffectivePort(),
		Username: settings.Username,
		Password: settings.Secret,
		Security: settings.TransportSecurity,
		Timeout:  settings.Timeout(),
	}
}

// Address returns host:port.
func (c Credentials) Address() string {
	port := c.Port
	if port == 0 {
		port = c.Security.DefaultPort()
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Credentials) timeout() time.Duration {
	if c.Timeout <= 0 {
		return models.DefaultTimeoutMs * time.Millisecond
	}
	return c.Timeout
}

// key identifies the remote identity, so pooled sessions are not reused after the user
// changes host or login.
func (c Credentials) key() string {
	return fmt.Sprintf("%s|%s|%s|%s", c.Address(), c.Security, c.Username, c.Password)
}

// RemoteFolder is a folder as listed by the server.
type RemoteFolder struct {
	Path           string
	Name           string
	SpecialUse     string
	Flags          []string
	TotalMessages  int
	UnreadMessages int
}

// FetchResult is the outcome of FetchMessages.
type FetchResult struct {
	UIDValidity uint32
	Messages    []*models.Message
}

// GatewayError is the failure arm of every Gateway call. Reason is safe to show to users.
type GatewayError struct {
	Op     string
	Reason string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("imap %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("imap %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation ran out of time.
func (e *GatewayError) Timeout() bool {
	return isTimeout(e.Err)
}

// ReasonTimeout is the reason given for every operation that exceeds its deadline.
const ReasonTimeout = "connection timed out"

// newGatewayError wraps err unless it already is a *GatewayError.
func newGatewayError(op string, err error) error {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	reason := err.Error()
	if isTimeout(err) {
		reason = ReasonTimeout
	}
	return &GatewayError{Op: op, Reason: reason, Err: err}
}

func dialReason(err error, addr string) string {
	if isTimeout(err) {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("unknown host %s", dnsErr.Name)
	}
	return fmt.Sprintf("could not connect to %s", addr)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
