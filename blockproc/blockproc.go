// Package blockproc implements BlockProcessor: the single
// writer onto the ledger. A worker goroutine drains a bounded queue in
// batches, dispatching each block's ledger.Process outcome to the right
// follow-up action (start an election, queue a gap, hand off a fork).
package blockproc

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/arrival"
	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/gapcache"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

const (
	// MaxQueueDepth is full()'s threshold.
	MaxQueueDepth = 16384
	// BatchSize is the most blocks drained into a single write
	// transaction.
	BatchSize = 16384
	// TransactionTimeout bounds how long a batch may hold the writer
	// transaction open.
	TransactionTimeout = 500 * time.Millisecond
	// ForkGracePeriod is how old a fork's origination must be before it
	// is handed to fork resolution, to avoid bootstrap noise on
	// freshly-minted forks.
	ForkGracePeriod = 15 * time.Second
)

type item struct {
	block           *blocks.Block
	originationTime time.Time
	forced          bool
}

// Hooks are the follow-up actions BlockProcessor triggers outside its
// own dispatch table -- starting/refreshing an election and routing a
// fork to resolution -- kept as construction-time callbacks rather than
// a direct package dependency, so blockproc and election stay decoupled.
type Hooks struct {
	OnRecent func(b *blocks.Block)
	OnFork   func(b *blocks.Block)
}

// Processor is the single-writer pipeline onto the ledger.
type Processor struct {
	mu       sync.Mutex
	cv       *sync.Cond
	normal   []item
	forced   []item
	queued   map[wire.Hash]struct{}
	active   bool
	stopped  bool

	oracle  ledger.Oracle
	store   ledger.Store
	arrival *arrival.Arrival
	gaps    *gapcache.Cache
	hooks   Hooks
	log     *logrus.Entry

	wg sync.WaitGroup
}

// New creates a Processor and starts its worker goroutine.
func New(oracle ledger.Oracle, store ledger.Store, arr *arrival.Arrival, gaps *gapcache.Cache, hooks Hooks, log *logrus.Entry) *Processor {
	p := &Processor{
		oracle:  oracle,
		store:   store,
		arrival: arr,
		gaps:    gaps,
		hooks:   hooks,
		log:     log,
		queued:  make(map[wire.Hash]struct{}),
	}
	p.cv = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.run()
	return p
}

// Add implements add(block, origination_time): accepts a
// block whose work is already validated by the caller, ignoring it if
// its hash is already queued. A non-zero originationTime marks the hash
// as a fresh arrival in BlockArrival, which decides whether a Progress
// outcome starts an election; re-queued unchecked children (zero time)
// are not marked. Non-blocking.
func (p *Processor) Add(b *blocks.Block, originationTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	h := b.Hash()
	if !originationTime.IsZero() {
		p.arrival.Add(h)
	}
	if _, dup := p.queued[h]; dup {
		return
	}
	p.queued[h] = struct{}{}
	p.normal = append(p.normal, item{block: b, originationTime: originationTime})
	p.cv.Signal()
}

// Force implements force(block): pushes ahead of normal
// blocks, for fork-winner replacement.
func (p *Processor) Force(b *blocks.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	h := b.Hash()
	delete(p.queued, h) // forced items bypass the normal dedupe set
	p.forced = append(p.forced, item{block: b, forced: true, originationTime: time.Now()})
	p.cv.Signal()
}

// Full implements full(): true when queue depth exceeds
// MaxQueueDepth.
func (p *Processor) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.normal)+len(p.forced) > MaxQueueDepth
}

// Flush implements flush(): blocks until the queue is empty
// and no batch is active.
func (p *Processor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for (len(p.normal) > 0 || len(p.forced) > 0 || p.active) && !p.stopped {
		p.cv.Wait()
	}
}

// Stop implements stop(): signals the worker to exit after
// its current batch and waits for it to do so.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cv.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Processor) run() {
	defer p.wg.Done()
	for {
		batch := p.takeBatch()
		if batch == nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		p.processBatch(batch)
	}
}

// takeBatch blocks until there is work or the processor is stopped,
// returning up to BatchSize items (forced first), or nil if stopped with
// an empty queue.
func (p *Processor) takeBatch() []item {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.normal) == 0 && len(p.forced) == 0 {
		if p.stopped {
			return nil
		}
		p.cv.Wait()
	}

	batch := make([]item, 0, BatchSize)
	for len(p.forced) > 0 && len(batch) < BatchSize {
		batch = append(batch, p.forced[0])
		p.forced = p.forced[1:]
	}
	for len(p.normal) > 0 && len(batch) < BatchSize {
		it := p.normal[0]
		p.normal = p.normal[1:]
		delete(p.queued, it.block.Hash())
		batch = append(batch, it)
	}
	p.active = true
	return batch
}

func (p *Processor) processBatch(batch []item) {
	defer func() {
		p.mu.Lock()
		p.active = false
		p.cv.Broadcast()
		p.mu.Unlock()
	}()

	tx, err := p.oracle.Begin(true)
	if err != nil {
		p.log.WithError(err).Error("block processor: failed to begin write transaction")
		return
	}
	defer tx.Discard()

	deadline := time.Now().Add(TransactionTimeout)
	var requeue []item

	for _, it := range batch {
		if time.Now().After(deadline) {
			requeue = append(requeue, it)
			continue
		}
		p.applyOne(tx, it)
	}

	if err := p.oracle.Commit(tx); err != nil {
		p.log.WithError(err).Error("block processor: commit failed")
	}

	for _, it := range requeue {
		if it.forced {
			p.Force(it.block)
		} else {
			p.Add(it.block, it.originationTime)
		}
	}
}

func (p *Processor) applyOne(tx ledger.Tx, it item) {
	b := it.block

	if it.forced {
		if successor, ok := p.oracle.Successor(tx, b.Root()); ok && successor.Hash() != b.Hash() {
			if err := p.oracle.Rollback(tx, successor.Hash()); err != nil {
				p.log.WithError(err).Warn("block processor: rollback before force failed")
			}
		}
	}

	result := p.oracle.Process(tx, b)
	switch result {
	case ledger.Progress:
		if p.arrival.Recent(b.Hash()) && p.hooks.OnRecent != nil {
			p.hooks.OnRecent(b)
		}
		p.queueUncheckedChildren(tx, b.Hash())

	case ledger.GapPrevious:
		p.storeUnchecked(tx, b.Previous, b, it.originationTime)
		p.gaps.Add(b)

	case ledger.GapSource:
		dep := p.oracle.BlockSource(tx, b)
		p.storeUnchecked(tx, dep, b, it.originationTime)
		p.gaps.Add(b)

	case ledger.Old:
		p.queueUncheckedChildren(tx, b.Hash())

	case ledger.IncorrectDividend:
		p.storeUnchecked(tx, b.Dividend, b, it.originationTime)

	case ledger.Fork, ledger.DividendFork:
		// A zero origination time marks a synthetically re-queued
		// unchecked child, which always skips fork handling
		// regardless of age.
		if !it.originationTime.IsZero() && time.Since(it.originationTime) >= ForkGracePeriod && p.hooks.OnFork != nil {
			p.hooks.OnFork(b)
		}

	case ledger.BadSignature, ledger.NegativeSpend, ledger.Unreceivable, ledger.BalanceMismatch,
		ledger.RepresentativeMismatch, ledger.BlockPosition, ledger.OpenedBurnAccount,
		ledger.DividendTooSmall, ledger.InvalidDividendAccount:
		p.log.WithFields(logrus.Fields{"hash": b.Hash().String(), "result": result.String()}).Debug("block processor: discarding block")

	default:
		p.log.WithField("result", result.String()).Warn("block processor: unhandled ledger result")
	}
}

func (p *Processor) storeUnchecked(tx ledger.Tx, dependency wire.Hash, b *blocks.Block, originationTime time.Time) {
	if err := p.store.UncheckedPut(tx, dependency, b, originationTime.UnixNano()); err != nil {
		p.log.WithError(err).Warn("block processor: unchecked put failed")
	}
}

// queueUncheckedChildren implements "Queue unchecked(hash)":
// every block previously stored under dependency hash is removed from
// the unchecked store and re-added with a zero origination time so fork
// handling skips them.
func (p *Processor) queueUncheckedChildren(tx ledger.Tx, hash wire.Hash) {
	entries := p.store.UncheckedGet(tx, hash)
	for _, e := range entries {
		if err := p.store.UncheckedDel(tx, hash, e.Block.Hash()); err != nil {
			p.log.WithError(err).Warn("block processor: unchecked del failed")
			continue
		}
		p.Add(e.Block, time.Time{})
	}
}
