package presence

import (
	"sync"
	"time"

	"github.com/syncboard/syncboard/pkg/models"
)

// profileCache is a bounded cache of display profiles keyed by user id. Its
// lifetime is independent of presence entries: profiles outlive a single
// membership but are dropped once the user holds no membership at all, and
// the oldest entries are evicted when the cache exceeds capacity.
type profileCache struct {
	mu      sync.Mutex
	entries map[string]cachedProfile
	max     int
}

type cachedProfile struct {
	profile models.Profile
	added   time.Time
}

func newProfileCache(max int) *profileCache {
	return &profileCache{
		entries: make(map[string]cachedProfile),
		max:     max,
	}
}

func (c *profileCache) get(userID string) (models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	return entry.profile, ok
}

func (c *profileCache) put(userID string, profile models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cachedProfile{profile: profile, added: time.Now()}
	c.pruneLocked()
}

// retain drops every cached profile whose user is not in active, then
// enforces the capacity limit.
func (c *profileCache) retain(active map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID := range c.entries {
		if _, ok := active[userID]; !ok {
			delete(c.entries, userID)
		}
	}
	c.pruneLocked()
}

func (c *profileCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *profileCache) pruneLocked() {
	if c.max <= 0 {
		return
	}
	for len(c.entries) > c.max {
		var oldestKey string
		var oldest time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.added.Before(oldest) {
				oldestKey = key
				oldest = entry.added
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}
}
