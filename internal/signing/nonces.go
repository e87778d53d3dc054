package signing

import (
	"sync"
	"time"
)

// nonceCache remembers consumed nonces until their TTL passes
type nonceCache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // nonce -> expiry

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newNonceCache(ttl time.Duration, now func() time.Time) *nonceCache {
	return &nonceCache{
		ttl:    ttl,
		now:    now,
		seen:   make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
}

// use records nonce and reports whether it was fresh
func (c *nonceCache) use(nonce string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.seen[nonce]; ok && now.Before(exp) {
		return false
	}
	c.seen[nonce] = now.Add(c.ttl)
	return true
}

func (c *nonceCache) purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for nonce, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, nonce)
			n++
		}
	}
	return n
}

func (c *nonceCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *nonceCache) start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.purge()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *nonceCache) stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
