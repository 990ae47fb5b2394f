package imap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// workerIdleTimeout is the maximum time a worker connection can be idle before being closed.
	workerIdleTimeout = 10 * time.Minute
	// healthCheckThreshold is the idle time after which a NOOP is sent before reuse.
	healthCheckThreshold = time.Minute
	// cleanupInterval is how often idle workers are reaped.
	cleanupInterval = time.Minute
)

// Pool manages IMAP connections per user:
// - worker connections (up to maxWorkers per user) for LIST, STATUS, FETCH, CREATE, DELETE
// - one listener connection per user for IDLE
type Pool struct {
	workerSets    map[string]*workerSet
	listeners     map[string]*pooledConn
	mu            sync.Mutex
	maxWorkers    int
	dial          dialer
	log           zerolog.Logger
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a connection pool allowing maxWorkers concurrent sessions per user.
func NewPool(maxWorkers int, logger zerolog.Logger) *Pool {
	return newPoolWithDialer(maxWorkers, dialAndLogin, logger)
}

func newPoolWithDialer(maxWorkers int, dial dialer, logger zerolog.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workerSets:    make(map[string]*workerSet),
		listeners:     make(map[string]*pooledConn),
		maxWorkers:    maxWorkers,
		dial:          dial,
		log:           logger.With().Str("component", "imap_pool").Logger(),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanupGoroutine()
	return p
}

// Remove closes every connection of the user, busy ones included.
func (p *Pool) Remove(userID string) {
	p.mu.Lock()
	set := p.workerSets[userID]
	delete(p.workerSets, userID)
	listener := p.listeners[userID]
	delete(p.listeners, userID)
	p.mu.Unlock()

	if set != nil {
		set.closeAll()
	}
	if listener != nil {
		// The listener is normally held by an IDLE loop; dropping the socket ends it.
		_ = listener.client.Terminate()
	}
}

// Close closes all connections in the pool and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.cleanupCancel()

	p.mu.Lock()
	users := make([]string, 0, len(p.workerSets)+len(p.listeners))
	for userID := range p.workerSets {
		users = append(users, userID)
	}
	for userID := range p.listeners {
		if _, ok := p.workerSets[userID]; !ok {
			users = append(users, userID)
		}
	}
	p.mu.Unlock()

	for _, userID := range users {
		p.Remove(userID)
	}
}

// workerCount returns how many worker connections the user currently holds.
func (p *Pool) workerCount(userID string) int {
	p.mu.Lock()
	set := p.workerSets[userID]
	p.mu.Unlock()
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}
