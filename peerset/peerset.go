package peerset

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/chratos-network/core/wire"
)

const (
	// btreeDegree is an arbitrary, unremarkable choice; google/btree's
	// docs suggest 32 for in-memory ordered indices of this size.
	btreeDegree = 32

	// MaxPeersPerIP bounds how many distinct endpoints behind one IP this
	// set tracks.
	MaxPeersPerIP = 10
	// MaxLegacyPeers bounds total pre-handshake (non node-id-capable)
	// peers across the whole set.
	MaxLegacyPeers = 500
	// MaxLegacyPeersPerIP bounds pre-handshake peers behind one IP.
	MaxLegacyPeersPerIP = 10

	// NodeIDHandshakeVersion is the minimum protocol version that
	// supports the node-id handshake (wire.NodeIDHandshakeVersion).
	NodeIDHandshakeVersion = wire.NodeIDHandshakeVersion
)

type lastContactKey struct {
	t  time.Time
	ep wire.Endpoint
}

func lessLastContact(a, b lastContactKey) bool {
	if !a.t.Equal(b.t) {
		return a.t.Before(b.t)
	}
	return endpointLess(a.ep, b.ep)
}

type repWeightKey struct {
	weight wire.Amount
	ep     wire.Endpoint
}

// lessRepWeight orders descending by weight (so Ascend walks
// highest-weight first), tie-broken by endpoint for a total order.
func lessRepWeight(a, b repWeightKey) bool {
	if c := b.weight.Cmp(a.weight); c != 0 {
		return c < 0
	}
	return endpointLess(a.ep, b.ep)
}

type repRequestKey struct {
	t  time.Time
	ep wire.Endpoint
}

func lessRepRequest(a, b repRequestKey) bool {
	if !a.t.Equal(b.t) {
		return a.t.Before(b.t)
	}
	return endpointLess(a.ep, b.ep)
}

func endpointLess(a, b wire.Endpoint) bool {
	if a.Port != b.Port {
		return a.Port < b.Port
	}
	as, bs := a.Addr.String(), b.Addr.String()
	return as < bs
}

// Set is the multi-indexed peer container keyed by endpoint, with
// secondary orderings by last contact, rep weight, and rep-request
// staleness.
type Set struct {
	mu sync.Mutex

	self        wire.Endpoint
	liveNetwork bool

	byEndpoint map[wire.Endpoint]*Info
	insertion  []wire.Endpoint
	perIPCount map[string]int
	legacyPerIP map[string]int
	legacyTotal int

	lastContact *btree.BTreeG[lastContactKey]
	repWeight   *btree.BTreeG[repWeightKey]
	repRequest  *btree.BTreeG[repRequestKey]

	nextSeq int64

	onEmpty func()
}

// New creates an empty Set. self is excluded from insert() as a
// self-connection guard; liveNetwork gates the RFC1918/RFC6598 reserved
// checks.
func New(self wire.Endpoint, liveNetwork bool) *Set {
	return &Set{
		self:        self,
		liveNetwork: liveNetwork,
		byEndpoint:  make(map[wire.Endpoint]*Info),
		perIPCount:  make(map[string]int),
		legacyPerIP: make(map[string]int),
		lastContact: btree.NewG(btreeDegree, lessLastContact),
		repWeight:   btree.NewG(btreeDegree, lessRepWeight),
		repRequest:  btree.NewG(btreeDegree, lessRepRequest),
	}
}

// OnEmpty registers the disconnect observer fired when purge_list empties
// the set.
func (s *Set) OnEmpty(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEmpty = fn
}

func ipKey(ep wire.Endpoint) string { return ep.IP().String() }

// Insert implements insert(endpoint, version): rejects
// reserved addresses, self, versions below the node-id handshake
// minimum when over the per-IP cap, and endpoints exceeding per-IP or
// legacy caps. Refreshes last_contact on duplicates without changing
// version.
func (s *Set) Insert(ep wire.Endpoint, version uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ep, version, time.Now())
}

func (s *Set) insertLocked(ep wire.Endpoint, version uint8, now time.Time) bool {
	if ep == s.self {
		return false
	}
	if IsReserved(ep.IP(), s.liveNetwork, false) {
		return false
	}

	if existing, ok := s.byEndpoint[ep]; ok {
		s.moveLastContactLocked(existing, ep, now)
		return true
	}

	ip := ipKey(ep)
	if s.perIPCount[ip] >= MaxPeersPerIP {
		return false
	}
	legacy := version < NodeIDHandshakeVersion
	if legacy {
		if s.legacyTotal >= MaxLegacyPeers || s.legacyPerIP[ip] >= MaxLegacyPeersPerIP {
			return false
		}
	}

	info := &Info{Endpoint: ep, Version: version, LastContact: now, LastAttempt: now, seq: s.nextSeq}
	s.nextSeq++
	s.byEndpoint[ep] = info
	s.insertion = append(s.insertion, ep)
	s.perIPCount[ip]++
	if legacy {
		s.legacyTotal++
		s.legacyPerIP[ip]++
	}
	s.lastContact.ReplaceOrInsert(lastContactKey{t: now, ep: ep})
	s.repRequest.ReplaceOrInsert(repRequestKey{t: info.LastRepRequest, ep: ep})
	return true
}

func (s *Set) moveLastContactLocked(info *Info, ep wire.Endpoint, now time.Time) {
	s.lastContact.Delete(lastContactKey{t: info.LastContact, ep: ep})
	info.LastContact = now
	s.lastContact.ReplaceOrInsert(lastContactKey{t: now, ep: ep})
}

// Contacted implements contacted(endpoint, version): updates
// last_contact if known; returns true if the caller should issue a
// node-id handshake (version supports it, peer is unknown, and the IP
// is within its per-IP cap).
func (s *Set) Contacted(ep wire.Endpoint, version uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.byEndpoint[ep]; ok {
		s.moveLastContactLocked(existing, ep, now)
		return false
	}
	if version < NodeIDHandshakeVersion {
		return false
	}
	ip := ipKey(ep)
	return s.perIPCount[ip] < MaxPeersPerIP
}

// RandomSet returns a uniform sample of n endpoints across insertion
// order.
func (s *Set) RandomSet(n int) []wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.insertion)
	if n >= total {
		out := make([]wire.Endpoint, total)
		copy(out, s.insertion)
		return out
	}

	perm := rand.Perm(total)
	out := make([]wire.Endpoint, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, s.insertion[idx])
	}
	return out
}

// RandomFill implements random_fill(out[8]) used to populate
// keepalive gossip payloads.
func (s *Set) RandomFill() [8]wire.Endpoint {
	var out [8]wire.Endpoint
	sample := s.RandomSet(8)
	copy(out[:], sample)
	return out
}

// Representatives implements representatives(n): top-n by
// rep_weight, excluding zero-weight peers.
func (s *Set) Representatives(n int) []wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wire.Endpoint, 0, n)
	s.repWeight.Ascend(func(k repWeightKey) bool {
		if k.weight.IsZero() {
			return false
		}
		out = append(out, k.ep)
		return len(out) < n
	})
	return out
}

// RepCrawl implements rep_crawl(): the n peers most stale by
// last_rep_request, for RepCrawler to poll next.
func (s *Set) RepCrawl(n int) []wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wire.Endpoint, 0, n)
	s.repRequest.Ascend(func(k repRequestKey) bool {
		out = append(out, k.ep)
		return len(out) < n
	})
	return out
}

// MarkRepRequested records that a rep_request was just sent to ep, for
// RepCrawl's staleness ordering.
func (s *Set) MarkRepRequested(ep wire.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.byEndpoint[ep]
	if !ok {
		return
	}
	s.repRequest.Delete(repRequestKey{t: info.LastRepRequest, ep: ep})
	info.LastRepRequest = time.Now()
	s.repRequest.ReplaceOrInsert(repRequestKey{t: info.LastRepRequest, ep: ep})
}

// PurgeList implements purge_list(cutoff): removes peers
// with last_contact before cutoff, updates the legacy counters, and
// fires the disconnect observer if the set empties.
func (s *Set) PurgeList(cutoff time.Time) int {
	s.mu.Lock()
	var observer func()
	removed := 0
	func() {
		defer s.mu.Unlock()
		for ep, info := range s.byEndpoint {
			if info.LastContact.Before(cutoff) {
				s.removeLocked(ep, info)
				removed++
			}
		}
		if len(s.byEndpoint) == 0 && s.onEmpty != nil {
			observer = s.onEmpty
		}
	}()
	if observer != nil {
		observer()
	}
	return removed
}

func (s *Set) removeLocked(ep wire.Endpoint, info *Info) {
	delete(s.byEndpoint, ep)
	ip := ipKey(ep)
	s.perIPCount[ip]--
	if s.perIPCount[ip] <= 0 {
		delete(s.perIPCount, ip)
	}
	if info.Version < NodeIDHandshakeVersion {
		s.legacyTotal--
		if s.legacyTotal < 0 {
			s.legacyTotal = 0
		}
		s.legacyPerIP[ip]--
		if s.legacyPerIP[ip] <= 0 {
			delete(s.legacyPerIP, ip)
		}
	}
	s.lastContact.Delete(lastContactKey{t: info.LastContact, ep: ep})
	if !info.RepWeight.IsZero() {
		s.repWeight.Delete(repWeightKey{weight: info.RepWeight, ep: ep})
	}
	s.repRequest.Delete(repRequestKey{t: info.LastRepRequest, ep: ep})
	for i, e := range s.insertion {
		if e == ep {
			s.insertion = append(s.insertion[:i], s.insertion[i+1:]...)
			break
		}
	}
}

// RepResponse implements rep_response(endpoint, rep_account,
// weight): updates rep weight only if higher, returning true if this is
// a newly identified representative (weight was previously zero).
func (s *Set) RepResponse(ep wire.Endpoint, rep wire.Account, weight wire.Amount) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.byEndpoint[ep]
	if !ok {
		return false
	}
	info.LastRepResponse = time.Now()
	if weight.Cmp(info.RepWeight) <= 0 {
		return false
	}
	wasZero := info.RepWeight.IsZero()
	if !info.RepWeight.IsZero() {
		s.repWeight.Delete(repWeightKey{weight: info.RepWeight, ep: ep})
	}
	info.RepWeight = weight
	info.ProbableRepAccount = rep
	s.repWeight.ReplaceOrInsert(repWeightKey{weight: weight, ep: ep})
	return wasZero
}

// TotalWeight implements total_weight(): sum of rep_weights
// deduplicated by probable_rep_account (a single representative may be
// reachable through more than one tracked endpoint).
func (s *Set) TotalWeight() wire.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAccount := make(map[wire.Account]wire.Amount)
	for _, info := range s.byEndpoint {
		if info.RepWeight.IsZero() {
			continue
		}
		if existing, ok := byAccount[info.ProbableRepAccount]; !ok || info.RepWeight.Cmp(existing) > 0 {
			byAccount[info.ProbableRepAccount] = info.RepWeight
		}
	}
	total := wire.Amount{}
	for _, w := range byAccount {
		total = total.Add(w)
	}
	return total
}

// Len reports the number of tracked peers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEndpoint)
}

// Get returns a copy of the tracked Info for ep, if known.
func (s *Set) Get(ep wire.Endpoint) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.byEndpoint[ep]
	if !ok {
		return Info{}, false
	}
	return *info, true
}
