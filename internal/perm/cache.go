package perm

import (
	"fmt"
	"strings"
	"sync"

	"clubgate.org/internal/obs"
)

// cache memoizes resolved permission decisions for the lifetime of the
// process. It is unbounded on purpose: entries only change through the
// mutation paths, which invalidate explicitly, so there is no TTL.
type cache struct {
	mu      sync.Mutex
	entries map[string]bool
}

func newCache() *cache {
	return &cache{entries: make(map[string]bool)}
}

func cacheKey(userID int64, resource, permission string) string {
	return fmt.Sprintf("%d:%s:%s", userID, resource, permission)
}

func (c *cache) get(userID int64, resource, permission string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey(userID, resource, permission)]
	if ok {
		obs.ObservePermCacheLookup("hit")
	} else {
		obs.ObservePermCacheLookup("miss")
	}
	return v, ok
}

func (c *cache) set(userID int64, resource, permission string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(userID, resource, permission)] = allowed
}

// invalidateUser drops every cached decision for one user.
func (c *cache) invalidateUser(userID int64) {
	prefix := fmt.Sprintf("%d:", userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// clear drops everything. Role matrix changes affect an unknown set of
// users, so the whole cache goes.
func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]bool)
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
