// Package resume implements the Pair Resume session cache.
//
// After a successful Pair Verify over BLE the accessory stores the shared
// secret under a short session ID. A controller may later present that ID
// to skip the signature exchange. Entries are single use: a successful
// Fetch removes the entry, and a resumed session saves a fresh one.
package resume

import (
	"sync"

	"github.com/backkem/hap/pkg/pairing"
)

// Sizes.
const (
	SessionIDSize = 8
	SecretSize    = 32

	// DefaultCapacity is the number of cached sessions.
	DefaultCapacity = 8
)

// SessionID identifies a resumable session.
type SessionID [SessionIDSize]byte

// Secret is a cached shared secret.
type Secret [SecretSize]byte

type entry struct {
	id      SessionID
	secret  Secret
	pairing pairing.Index
	lastUse uint64
}

// Cache is a fixed-size least-recently-used session cache.
//
// Thread Safety: All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  []entry
	capacity int
	clock    uint64
}

// New creates a cache with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make([]entry, 0, capacity),
		capacity: capacity,
	}
}

// Capacity returns the number of slots.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch looks up and removes the entry for id.
func (c *Cache) Fetch(id SessionID) (Secret, pairing.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.id == id {
			c.removeLocked(i)
			return e.secret, e.pairing, true
		}
	}
	return Secret{}, pairing.NoIndex, false
}

// Save stores a session. When the cache is full the least recently used
// entry is replaced; if it belonged to a different pairing, that pairing's
// index is returned so dependent resources can be released. Otherwise
// pairing.NoIndex is returned.
func (c *Cache) Save(id SessionID, secret Secret, idx pairing.Index) pairing.Index {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	e := entry{id: id, secret: secret, pairing: idx, lastUse: c.clock}

	for i := range c.entries {
		if c.entries[i].id == id {
			c.entries[i] = e
			return pairing.NoIndex
		}
	}

	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, e)
		return pairing.NoIndex
	}

	oldest := 0
	for i := range c.entries {
		if c.entries[i].lastUse < c.entries[oldest].lastUse {
			oldest = i
		}
	}
	evicted := c.entries[oldest].pairing
	c.entries[oldest] = e
	if evicted == idx {
		return pairing.NoIndex
	}
	return evicted
}

// InvalidateEntriesForPairing removes every entry of a pairing.
func (c *Cache) InvalidateEntriesForPairing(idx pairing.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].pairing == idx {
			c.removeLocked(i)
		}
	}
}

// Purge removes every entry and zeroes the cached secrets.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries[:cap(c.entries)])
	c.entries = c.entries[:0]
}

// removeLocked deletes entry i. No secret is left behind in the backing
// array past the new length.
func (c *Cache) removeLocked(i int) {
	n := len(c.entries)
	clear(c.entries[i].secret[:])
	copy(c.entries[i:], c.entries[i+1:])
	c.entries[n-1] = entry{}
	c.entries = c.entries[:n-1]
}
