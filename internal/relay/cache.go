package relay

import (
	"sync"
	"time"
)

// Cache is the in-memory, time-bounded store of the latest webhook payload
// per session. It keeps no history: storing a payload for a session id
// overwrites whatever was there. Eviction is a plain TTL sweep; the cache is
// keyed uniquely per session and sessions produce few payloads, so staleness
// is the concern, not size.
type Cache struct {
	ttl time.Duration

	mu       sync.RWMutex
	payloads map[string]*WebhookPayload

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCache creates a payload cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:      ttl,
		payloads: make(map[string]*WebhookPayload),
		stop:     make(chan struct{}),
	}
}

// Put stores the payload for its session id, replacing any prior value.
func (c *Cache) Put(p *WebhookPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[p.SessionID] = p
}

// Latest returns the most recently stored payload for the session, or false
// if none exists or it is past its TTL. Expiry is checked at read time as
// well, so a payload never outlives its TTL just because the sweeper has not
// run yet.
func (c *Cache) Latest(sessionID string) (*WebhookPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.payloads[sessionID]
	if !ok || time.Since(p.ReceivedAt) >= c.ttl {
		return nil, false
	}
	return p, true
}

// Len returns the number of stored payloads, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.payloads)
}

// Sweep removes all entries past their TTL and returns how many were purged.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, p := range c.payloads {
		if time.Since(p.ReceivedAt) >= c.ttl {
			delete(c.payloads, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until Close is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the background sweeper. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
