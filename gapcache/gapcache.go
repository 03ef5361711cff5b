// Package gapcache implements GapCache: tracking of blocks
// whose dependency is missing, and vote-weight-triggered bootstrap when
// enough online stake has voted for something this node doesn't have.
package gapcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/timer"
	"github.com/chratos-network/core/wire"
)

// MaxSize is the LRU-by-arrival eviction bound.
const MaxSize = 256

// BootstrapCheckDelay is how long after crossing the bootstrap threshold
// the delayed re-check runs.
const BootstrapCheckDelay = 5 * time.Second

type gap struct {
	hash    wire.Hash
	block   *blocks.Block
	voters  map[wire.Account]struct{}
	arrived time.Time
}

// OnlineStaker reports the node's current live estimate of online stake
// (onlinereps.OnlineReps.OnlineStake), used to derive the bootstrap
// threshold.
type OnlineStaker interface {
	OnlineStake() wire.Amount
}

// Cache is the LRU-by-arrival gap tracker. Storage is golang-lru for O(1)
// lookup, but eviction order is NOT golang-lru's own access-recency --
// that would let a repeatedly-voted-for gap outlive an older, un-voted
// one. Arrival order is tracked separately in queue, the way
// arrival/arrival.go tracks aging order, and reads use Peek/Contains so
// they never promote an entry.
type Cache struct {
	mu sync.Mutex

	lru   *lru.Cache // wire.Hash -> *gap, storage only
	queue []wire.Hash

	oracle     ledger.Oracle
	store      ledger.Store
	bootstrap  ledger.BootstrapInitiator
	onlineStake OnlineStaker
	alarm      *timer.Alarm

	bootstrapFractionNumerator uint64
}

// New creates a Cache. bootstrapFractionNumerator is the configured
// numerator in the bootstrap threshold formula (see threshold).
func New(oracle ledger.Oracle, store ledger.Store, bootstrap ledger.BootstrapInitiator, online OnlineStaker, alarm *timer.Alarm, bootstrapFractionNumerator uint64) *Cache {
	// Capacity far above MaxSize: this LRU is a storage map, not the
	// eviction primitive -- evictLocked enforces MaxSize by arrival order.
	l, err := lru.New(1 << 20)
	if err != nil {
		panic("gapcache: lru.New: " + err.Error())
	}
	return &Cache{
		lru:                        l,
		oracle:                     oracle,
		store:                      store,
		bootstrap:                  bootstrap,
		onlineStake:                online,
		alarm:                      alarm,
		bootstrapFractionNumerator: bootstrapFractionNumerator,
	}
}

// Add implements add(block): resets arrival time if the
// block's root is already tracked, else inserts it, evicting the
// oldest-arrived entry if the cache is at MaxSize.
func (c *Cache) Add(b *blocks.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	root := b.Root()
	if v, ok := c.lru.Peek(root); ok {
		g := v.(*gap)
		g.arrived = time.Now()
		g.block = b
		c.touchLocked(root)
		return
	}

	c.lru.Add(root, &gap{hash: root, block: b, voters: make(map[wire.Account]struct{}), arrived: time.Now()})
	c.queue = append(c.queue, root)
	c.evictLocked()
}

// touchLocked moves hash to the back of the arrival queue, reflecting
// that its arrived time was just reset.
func (c *Cache) touchLocked(hash wire.Hash) {
	for i, h := range c.queue {
		if h == hash {
			c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
			break
		}
	}
	c.queue = append(c.queue, hash)
}

// evictLocked drops entries from the front of the arrival queue -- the
// oldest-arrived ones -- until the cache is back at MaxSize.
func (c *Cache) evictLocked() {
	for len(c.queue) > MaxSize {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		c.lru.Remove(oldest)
	}
}

// Vote implements vote(vote): for each hash in the vote that
// is tracked, records the voter, tallies weight, and schedules a delayed
// bootstrap check once the tally crosses the threshold.
func (c *Cache) Vote(v *blocks.Vote) {
	for _, elem := range v.Blocks {
		c.voteOne(elem.Hash(), v.Account)
	}
}

func (c *Cache) voteOne(hash wire.Hash, voter wire.Account) {
	c.mu.Lock()
	value, ok := c.lru.Peek(hash)
	if !ok {
		c.mu.Unlock()
		return
	}
	g := value.(*gap)
	g.voters[voter] = struct{}{}
	voters := make([]wire.Account, 0, len(g.voters))
	for a := range g.voters {
		voters = append(voters, a)
	}
	c.mu.Unlock()

	tx, err := c.oracle.Begin(false)
	if err != nil {
		return
	}
	defer tx.Discard()

	var tally wire.Amount
	for _, a := range voters {
		tally = tally.Add(c.oracle.Weight(tx, a))
	}

	if tally.Cmp(c.threshold()) <= 0 {
		return
	}

	c.alarm.Add(BootstrapCheckDelay, func() { c.recheckBootstrap(hash) })
}

// bootstrapDivisor is the fixed divisor in the bootstrap threshold
// formula below.
const bootstrapDivisor = 256

// threshold computes online_stake()/256 * bootstrapFractionNumerator, the
// tally of voter weight that must accumulate against a tracked gap before
// a bootstrap re-check is scheduled.
func (c *Cache) threshold() wire.Amount {
	stake := c.onlineStake.OnlineStake()
	perUnit := stake.DivUint64(bootstrapDivisor)
	return perUnit.MulUint64(c.bootstrapFractionNumerator)
}

func (c *Cache) recheckBootstrap(hash wire.Hash) {
	tx, err := c.oracle.Begin(false)
	if err != nil {
		return
	}
	defer tx.Discard()

	if c.store.BlockExists(tx, hash) {
		return
	}
	if c.bootstrap.InProgress() {
		return
	}
	c.bootstrap.Bootstrap()
}

// Contains reports whether hash is currently tracked as a gap.
func (c *Cache) Contains(hash wire.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(hash)
}

// Len reports the number of tracked gaps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
