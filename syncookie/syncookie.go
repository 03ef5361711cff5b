// Package syncookie implements a SYN-cookie-style handshake table: a
// one-time 32-byte challenge per endpoint, bound to that endpoint's
// claimed node id by an ed25519 signature, with a per-IP issuance cap
// and periodic aging.
package syncookie

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/wire"
)

// MaxPeersPerIP bounds the number of outstanding cookies this table will
// issue for endpoints sharing one IP.
const MaxPeersPerIP = 10

type entry struct {
	challenge [32]byte
	created   time.Time
}

// Table is the mutex-guarded endpoint -> challenge map.
type Table struct {
	mu         sync.Mutex
	byEndpoint map[wire.Endpoint]entry
	perIP      map[string]int
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		byEndpoint: make(map[wire.Endpoint]entry),
		perIP:      make(map[string]int),
	}
}

// Assign issues a fresh challenge for ep, returns the challenge already
// outstanding for ep if there is one, or reports none if the endpoint's
// IP is already at its cookie cap.
func (t *Table) Assign(ep wire.Endpoint) (challenge [32]byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, exists := t.byEndpoint[ep]; exists {
		return existing.challenge, true
	}

	ip := ep.IP().String()
	if t.perIP[ip] >= MaxPeersPerIP {
		return [32]byte{}, false
	}

	var c [32]byte
	if _, err := rand.Read(c[:]); err != nil {
		return [32]byte{}, false
	}
	t.byEndpoint[ep] = entry{challenge: c, created: time.Now()}
	t.perIP[ip]++
	return c, true
}

// Validate verifies the ed25519 signature over the stored challenge for
// ep using nodeID as the public key; on success removes the entry so it
// cannot be replayed.
func (t *Table) Validate(ep wire.Endpoint, nodeID wire.Account, signature wire.Signature) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byEndpoint[ep]
	if !ok {
		return false
	}
	if !cryptoutil.Verify(cryptoutil.PublicKey(nodeID[:]), e.challenge[:], signature[:]) {
		return false
	}
	t.removeLocked(ep)
	return true
}

func (t *Table) removeLocked(ep wire.Endpoint) {
	delete(t.byEndpoint, ep)
	ip := ep.IP().String()
	t.perIP[ip]--
	if t.perIP[ip] <= 0 {
		delete(t.perIP, ip)
	}
}

// Purge drops entries created before cutoff, freeing their per-IP slot.
func (t *Table) Purge(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ep, e := range t.byEndpoint {
		if e.created.Before(cutoff) {
			t.removeLocked(ep)
			removed++
		}
	}
	return removed
}

// Len reports the number of outstanding cookies.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byEndpoint)
}
