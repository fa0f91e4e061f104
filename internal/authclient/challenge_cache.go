package authclient

import (
	"sort"
	"sync"
)

// ChallengeCache remembers the last challenge seen for each exact request
// URL. Entries never expire; a fresh 401 replaces them.
type ChallengeCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewChallengeCache creates an empty cache.
func NewChallengeCache() *ChallengeCache {
	return &ChallengeCache{entries: make(map[string]string)}
}

// Get returns the challenge stored for url.
func (c *ChallengeCache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.entries[url]
	return ch, ok
}

// Set stores challenge for url. The last writer wins.
func (c *ChallengeCache) Set(url, challenge string) {
	c.mu.Lock()
	c.entries[url] = challenge
	c.mu.Unlock()
}

// Len returns the number of cached URLs.
func (c *ChallengeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entry is one cached challenge.
type Entry struct {
	URL       string
	Challenge string
}

// Snapshot returns the cached challenges sorted by URL.
func (c *ChallengeCache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for u, ch := range c.entries {
		out = append(out, Entry{URL: u, Challenge: ch})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
