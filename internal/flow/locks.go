package flow

import "sync"

// contactLocks provides per-contact mutual exclusion for the
// load-transition-save cycle. Locks are created on demand and removed once
// no goroutine holds or waits on them, so the map does not grow with the
// contact population. Exclusion is per key; other contacts proceed fully in
// parallel.
type contactLocks struct {
	mu    sync.Mutex
	locks map[string]*contactLock
}

type contactLock struct {
	mu   sync.Mutex
	refs int
}

func newContactLocks() *contactLocks {
	return &contactLocks{locks: make(map[string]*contactLock)}
}

// Lock acquires the lock for a contact and returns the release function.
func (c *contactLocks) Lock(contactID string) func() {
	c.mu.Lock()
	entry, ok := c.locks[contactID]
	if !ok {
		entry = &contactLock{}
		c.locks[contactID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, contactID)
		}
		c.mu.Unlock()
	}
}
