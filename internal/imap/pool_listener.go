package imap

import (
	"context"
	"time"
)

var errListenerBusy = &GatewayError{Op: "idle", Reason: "another listener is already running"}

// listener returns the user's IDLE connection, locked. A dead connection or one opened
// with other credentials is replaced. The caller unlocks it when the IDLE loop ends.
func (p *Pool) listener(ctx context.Context, creds Credentials) (*pooledConn, error) {
	key := creds.key()

	p.mu.Lock()
	existing := p.listeners[creds.UserID]
	p.mu.Unlock()

	if existing != nil {
		if !existing.mu.TryLock() {
			return nil, errListenerBusy
		}
		if existing.alive() && existing.credKey == key {
			existing.lastUsed = time.Now()
			return existing, nil
		}
		existing.close()
		existing.Unlock()
		p.removeListener(creds.UserID, existing)
	}

	c, err := p.dial(ctx, creds)
	if err != nil {
		return nil, err
	}

	conn := &pooledConn{client: c, lastUsed: time.Now(), role: roleListener, credKey: key}
	conn.Lock()

	p.mu.Lock()
	if other := p.listeners[creds.UserID]; other != nil {
		// Lost a race with another watcher; at most one listener per user.
		p.mu.Unlock()
		conn.close()
		conn.Unlock()
		return nil, errListenerBusy
	}
	p.listeners[creds.UserID] = conn
	p.mu.Unlock()

	return conn, nil
}

// removeListener forgets conn if it is still the user's listener.
func (p *Pool) removeListener(userID string, conn *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners[userID] == conn {
		delete(p.listeners, userID)
	}
}
