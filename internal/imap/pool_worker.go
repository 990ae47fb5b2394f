package imap

import (
	"context"
	"sync"
	"time"
)

// workerSet holds the worker connections of one user. slots bounds how many can be
// checked out at once.
type workerSet struct {
	conns []*pooledConn
	slots chan struct{}
	mu    sync.Mutex
}

func (p *Pool) workerSet(userID string) *workerSet {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.workerSets[userID]
	if !ok {
		set = &workerSet{slots: make(chan struct{}, p.maxWorkers)}
		p.workerSets[userID] = set
	}
	return set
}

// acquire checks out a locked worker connection for the credentials, reusing an idle
// one when possible. The returned release func must be called exactly once.
func (p *Pool) acquire(ctx context.Context, creds Credentials) (*pooledConn, func(), error) {
	set := p.workerSet(creds.UserID)

	select {
	case set.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, newGatewayError("connect", ctx.Err())
	}

	key := creds.key()
	for conn := set.takeIdle(key); conn != nil; conn = set.takeIdle(key) {
		if p.healthy(conn) {
			return conn, p.releaser(set, conn), nil
		}
		conn.close()
		conn.Unlock()
		set.remove(conn)
	}

	c, err := p.dial(ctx, creds)
	if err != nil {
		<-set.slots
		return nil, nil, err
	}

	conn := &pooledConn{client: c, lastUsed: time.Now(), role: roleWorker, credKey: key}
	conn.Lock()
	set.add(conn)
	return conn, p.releaser(set, conn), nil
}

// healthy checks a locked connection before reuse, sending NOOP if it sat idle for a while.
func (p *Pool) healthy(conn *pooledConn) bool {
	if !conn.alive() {
		return false
	}
	if time.Since(conn.lastUsed) > healthCheckThreshold {
		if err := conn.client.Noop(); err != nil {
			p.log.Debug().Err(err).Msg("Dropping worker connection that failed NOOP")
			return false
		}
	}
	return true
}

func (p *Pool) releaser(set *workerSet, conn *pooledConn) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if conn.alive() {
				conn.lastUsed = time.Now()
				conn.Unlock()
			} else {
				conn.close()
				conn.Unlock()
				set.remove(conn)
			}
			<-set.slots
		})
	}
}

// takeIdle returns a locked idle connection opened with the given credentials key.
// Idle connections opened with other credentials are closed on the way.
func (s *workerSet) takeIdle(key string) *pooledConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.conns[:0]
	var found *pooledConn
	for _, conn := range s.conns {
		if found == nil && conn.mu.TryLock() {
			if conn.credKey == key {
				found = conn
			} else {
				conn.close()
				conn.Unlock()
				continue
			}
		}
		kept = append(kept, conn)
	}
	s.conns = kept
	return found
}

func (s *workerSet) add(conn *pooledConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, conn)
}

func (s *workerSet) remove(conn *pooledConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// closeAll closes idle connections cleanly and drops the sockets of busy ones.
func (s *workerSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		if conn.mu.TryLock() {
			conn.close()
			conn.Unlock()
		} else {
			_ = conn.client.Terminate()
		}
	}
	s.conns = nil
}
