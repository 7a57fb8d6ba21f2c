package mcp

import (
	"sync"
	"time"

	"github.com/strand-ai/strand/pkg/agent"
)

// DefaultToolCacheTTL bounds how long a cached tool inventory is served
// before the endpoint is re-probed.
const DefaultToolCacheTTL = 5 * time.Minute

type cacheEntry struct {
	tools     []agent.ToolDescriptor
	fetchedAt time.Time
}

// toolCache holds per-endpoint tool inventories. Listing tools over the
// split pipe costs a full request round trip to a human-latency client,
// so planners read through this cache.
type toolCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newToolCache(ttl time.Duration) *toolCache {
	if ttl <= 0 {
		ttl = DefaultToolCacheTTL
	}
	return &toolCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *toolCache) get(endpoint string) ([]agent.ToolDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[endpoint]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) > c.ttl {
		delete(c.entries, endpoint)
		return nil, false
	}
	return entry.tools, true
}

func (c *toolCache) put(endpoint string, tools []agent.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[endpoint] = cacheEntry{tools: tools, fetchedAt: c.now()}
}

func (c *toolCache) setTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

func (c *toolCache) invalidate(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, endpoint)
}

func (c *toolCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
