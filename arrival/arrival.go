// Package arrival implements BlockArrival: a recent-hash
// membership test used to decide whether a freshly processed block is
// "recent enough" to start an election for. Entries age out after 5
// seconds, but never below a floor of 8192 so a burst of legitimate
// traffic can't be starved by its own volume.
package arrival

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chratos-network/core/wire"
)

const (
	// Window is how long a hash stays "recent" before it becomes
	// eligible for aging.
	Window = 5 * time.Second
	// MinSize is the floor below which aging stops removing entries,
	// even if they are older than Window.
	MinSize = 8192
)

// Arrival is a bounded, time-aged set of recently-seen hashes. The hash membership
// test is backed by golang-lru so lookups stay O(1) under the same
// eviction primitive the rest of this core's bounded caches use; aging
// order is tracked separately since golang-lru evicts by recency of
// access, not by insertion time.
type Arrival struct {
	mu sync.Mutex

	cache *lru.Cache // wire.Hash -> time.Time
	queue []wire.Hash
}

// New creates an empty Arrival container.
func New() *Arrival {
	// A capacity far above MinSize: the LRU's own eviction is a
	// backstop, not the primary aging mechanism (Recent does that).
	cache, err := lru.New(1 << 20)
	if err != nil {
		panic("arrival: lru.New: " + err.Error())
	}
	return &Arrival{cache: cache}
}

// Add returns true if hash was already tracked, else records it at the
// current time.
func (a *Arrival) Add(hash wire.Hash) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cache.Contains(hash) {
		return true
	}
	a.cache.Add(hash, time.Now())
	a.queue = append(a.queue, hash)
	return false
}

// Recent ages entries older than Window down to a floor of MinSize,
// then reports whether hash is still tracked.
func (a *Arrival) Recent(hash wire.Hash) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ageLocked()
	return a.cache.Contains(hash)
}

func (a *Arrival) ageLocked() {
	cutoff := time.Now().Add(-Window)
	for len(a.queue) > MinSize {
		oldest := a.queue[0]
		t, ok := a.cache.Peek(oldest)
		if !ok {
			a.queue = a.queue[1:]
			continue
		}
		arrivalTime, _ := t.(time.Time)
		if arrivalTime.After(cutoff) {
			break
		}
		a.cache.Remove(oldest)
		a.queue = a.queue[1:]
	}
}

// Len reports the number of tracked hashes.
func (a *Arrival) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.Len()
}
