package tenant

import (
	"sync"
	"time"
)

const historySize = 20

type accessEntry struct {
	tenantID string
	at       time.Time
}

// history is a fixed-size ring of one user's recent tenant accesses
type history struct {
	entries [historySize]accessEntry
	next    int
	n       int
}

func (h *history) add(e accessEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % historySize
	if h.n < historySize {
		h.n++
	}
}

// anomalyTracker flags users who touch too many distinct tenants within a
// rolling window
type anomalyTracker struct {
	window     time.Duration
	maxTenants int

	mu    sync.Mutex
	users map[string]*history
}

func newAnomalyTracker(window time.Duration, maxTenants int) *anomalyTracker {
	return &anomalyTracker{
		window:     window,
		maxTenants: maxTenants,
		users:      make(map[string]*history),
	}
}

// check reports whether accessing tenantID now would exceed the distinct
// tenant limit. Accepted accesses are recorded; rejected ones are not, so a
// flagged user keeps access to the tenants already in the window.
func (a *anomalyTracker) check(userID, tenantID string, now time.Time) (distinct int, suspicious bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.users[userID]
	if h == nil {
		h = &history{}
		a.users[userID] = h
	}

	cutoff := now.Add(-a.window)
	tenants := map[string]struct{}{tenantID: {}}
	for i := 0; i < h.n; i++ {
		e := h.entries[i]
		if e.at.After(cutoff) {
			tenants[e.tenantID] = struct{}{}
		}
	}
	if len(tenants) > a.maxTenants {
		return len(tenants), true
	}
	h.add(accessEntry{tenantID: tenantID, at: now})
	return len(tenants), false
}
