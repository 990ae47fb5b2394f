package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server listening on a random local port.
// The memory backend has one user, "username" / "password", whose INBOX holds one message.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// NewTestIMAPServer starts a server and stops it when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server stopped: %v", err)
		}
	}()

	t.Cleanup(func() {
		_ = s.Close()
	})

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}
}

// Username returns the login of the backend user.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the password of the backend user.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Host returns the host the server listens on.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the port the server listens on.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	n, _ := strconv.Atoi(port)
	return n
}

// Connect logs in a new client. The connection is closed when the test ends.
func (s *TestIMAPServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Logout()
	})

	if err := c.Login(s.username, s.password); err != nil {
		t.Fatalf("Failed to login: %v", err)
	}
	return c
}

// CreateFolder creates a mailbox on the server.
func (s *TestIMAPServer) CreateFolder(t *testing.T, path string) {
	t.Helper()

	c := s.Connect(t)
	if err := c.Create(path); err != nil {
		t.Fatalf("Failed to create folder %s: %v", path, err)
	}
}

// DeleteFolder removes a mailbox from the server.
func (s *TestIMAPServer) DeleteFolder(t *testing.T, path string) {
	t.Helper()

	c := s.Connect(t)
	if err := c.Delete(path); err != nil {
		t.Fatalf("Failed to delete folder %s: %v", path, err)
	}
}

// AppendRaw appends an RFC 822 message with the given flags.
func (s *TestIMAPServer) AppendRaw(t *testing.T, folder string, flags []string, raw string) {
	t.Helper()

	c := s.Connect(t)
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", "\r\n")
	if err := c.Append(folder, flags, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message to %s: %v", folder, err)
	}
}

// AddMessage appends a plain-text message and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folder, messageID, subject, from, to string, sentAt time.Time, seen bool) uint32 {
	t.Helper()

	var flags []string
	if seen {
		flags = append(flags, imap.SeenFlag)
	}
	s.AppendRaw(t, folder, flags, fmt.Sprintf(`Message-ID: %s
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

Test message body.
`, messageID, sentAt.Format(time.RFC1123Z), from, to, subject))

	c := s.Connect(t)
	if _, err := c.Select(folder, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message %s not found after append", messageID)
	}
	return uids[0]
}
