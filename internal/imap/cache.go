package imap

import (
	"sync"
	"time"
)

type folderCacheEntry struct {
	folders []RemoteFolder
	credKey string
	expires time.Time
}

// folderCache keeps the last folder listing per user for a short TTL.
type folderCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]folderCacheEntry
}

func newFolderCache(ttl time.Duration) *folderCache {
	return &folderCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]folderCacheEntry),
	}
}

// get returns a copy of the cached listing if it is fresh and was made with the same credentials.
func (c *folderCache) get(creds Credentials) ([]RemoteFolder, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[creds.UserID]
	if !ok || entry.credKey != creds.key() || !c.now().Before(entry.expires) {
		return nil, false
	}
	return append([]RemoteFolder(nil), entry.folders...), true
}

func (c *folderCache) put(creds Credentials, folders []RemoteFolder) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[creds.UserID] = folderCacheEntry{
		folders: append([]RemoteFolder(nil), folders...),
		credKey: creds.key(),
		expires: c.now().Add(c.ttl),
	}
}

func (c *folderCache) drop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
