package imap

import (
	"time"
)

// startCleanupGoroutine periodically reaps idle worker connections until Close is called.
func (p *Pool) startCleanupGoroutine() {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.cleanupIdleConnections(time.Now())
			}
		}
	}()
}

// cleanupIdleConnections closes worker connections unused since before now-workerIdleTimeout.
// Connections in use are skipped.
func (p *Pool) cleanupIdleConnections(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, set := range p.workerSets {
		set.mu.Lock()
		kept := set.conns[:0]
		for _, conn := range set.conns {
			if conn.mu.TryLock() {
				if now.Sub(conn.lastUsed) > workerIdleTimeout {
					conn.close()
					conn.Unlock()
					continue
				}
				conn.Unlock()
			}
			kept = append(kept, conn)
		}
		set.conns = kept
		set.mu.Unlock()
	}
}
