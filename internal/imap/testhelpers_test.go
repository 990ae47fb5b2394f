package imap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func testCredentials(server *testutil.TestIMAPServer, userID string) Credentials {
	return Credentials{
		UserID:   userID,
		Host:     server.Host(),
		Port:     server.Port(),
		Username: server.Username(),
		Password: server.Password(),
		Security: models.TransportNone,
		Timeout:  5 * time.Second,
	}
}

// countingDialer dials for real and counts how many sessions were opened.
func countingDialer(count *atomic.Int32) dialer {
	return func(ctx context.Context, creds Credentials) (*client.Client, error) {
		count.Add(1)
		return dialAndLogin(ctx, creds)
	}
}

func newTestPool(t *testing.T, maxWorkers int, dial dialer) *Pool {
	t.Helper()
	pool := newPoolWithDialer(maxWorkers, dial, zerolog.Nop())
	t.Cleanup(pool.Close)
	return pool
}

func newTestService(t *testing.T, cacheTTL time.Duration) (*Service, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	return NewService(newTestPool(t, 2, countingDialer(&dials)), cacheTTL, zerolog.Nop()), &dials
}

func waitLoggedOut(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case <-c.LoggedOut():
	case <-time.After(5 * time.Second):
		t.Fatal("connection is still open")
	}
}
