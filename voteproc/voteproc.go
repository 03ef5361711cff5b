// Package voteproc implements VoteProcessor: a single-consumer FIFO over
// incoming (vote, sender) pairs. Each vote is signature-checked, routed
// into ActiveElections, and checked against the ledger's last known vote
// from that account to classify it as fresh, replayed, or worth an
// amplification-safe reply.
package voteproc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

// AmplificationGuardBand is how far behind the ledger's max known
// sequence an incoming vote must be before the processor stops
// forwarding it and instead replies with the ledger's max vote, so a
// stale rebroadcaster is corrected in one reply instead of amplifying
// its stale vote further.
const AmplificationGuardBand = 10000

// ActiveElections is the collaborator VoteProcessor routes admitted
// votes into.
type ActiveElections interface {
	Vote(v *blocks.Vote) (touchedAny bool, replay bool)
}

// Hooks are the side effects a processed vote triggers outside routing
// into ActiveElections.
type Hooks struct {
	// Observe notifies observers (gap cache tally, online-reps
	// bookkeeping) of a freshly-processed, non-replayed vote.
	Observe func(v *blocks.Vote)
	// ReplyWithMax sends our last known vote for account back to
	// sender, used for the amplification-safe-replay reply.
	ReplyWithMax func(sender wire.Endpoint, max *blocks.Vote)
}

// Stats counts vote classifications; nil is a valid no-op collaborator.
type Stats interface {
	IncVote(detail string)
}

type item struct {
	vote   *blocks.Vote
	sender wire.Endpoint
}

// Processor is the single-consumer vote pipeline.
type Processor struct {
	mu      sync.Mutex
	cv      *sync.Cond
	queue   []item
	active  bool
	stopped bool

	elections ActiveElections
	store     ledger.Store
	oracle    ledger.Oracle
	hooks     Hooks
	stats     Stats
	log       *logrus.Entry

	wg sync.WaitGroup
}

// New creates a Processor and starts its worker goroutine. stats may be
// nil.
func New(elections ActiveElections, store ledger.Store, oracle ledger.Oracle, hooks Hooks, stats Stats, log *logrus.Entry) *Processor {
	p := &Processor{
		elections: elections,
		store:     store,
		oracle:    oracle,
		hooks:     hooks,
		stats:     stats,
		log:       log,
	}
	p.cv = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.run()
	return p
}

// Add enqueues a vote received from sender. Non-blocking.
func (p *Processor) Add(v *blocks.Vote, sender wire.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue = append(p.queue, item{vote: v, sender: sender})
	p.cv.Signal()
}

// Flush blocks until the queue is empty and no vote is mid-processing.
func (p *Processor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for (len(p.queue) > 0 || p.active) && !p.stopped {
		p.cv.Wait()
	}
}

// Stop signals the worker to exit after draining in-flight work and
// waits for it to do so.
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
		it, ok := p.take()
		if !ok {
			return
		}
		p.processOne(it.vote, it.sender)
		p.mu.Lock()
		p.active = false
		p.cv.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Processor) take() (item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.stopped {
			return item{}, false
		}
		p.cv.Wait()
	}
	it := p.queue[0]
	p.queue = p.queue[1:]
	p.active = true
	return it, true
}

// processOne implements the per-vote pipeline: validate, route, classify
// as vote/replay, notify observers, and answer an amplification-safe
// replay with our own max vote.
func (p *Processor) processOne(v *blocks.Vote, sender wire.Endpoint) {
	if !v.Validate() {
		p.log.WithField("account", v.Account.String()).Debug("vote processor: invalid signature, discarding")
		return
	}

	tx, err := p.oracle.Begin(false)
	if err != nil {
		p.log.WithError(err).Error("vote processor: failed to begin read transaction")
		return
	}
	max, hasMax := p.store.VoteMax(tx, v.Account)
	tx.Discard()

	touched, _ := p.elections.Vote(v)

	replay := !touched && hasMax && max.Sequence >= v.Sequence

	if !replay {
		if p.stats != nil {
			p.stats.IncVote("valid")
		}
		if p.hooks.Observe != nil {
			p.hooks.Observe(v)
		}
	} else {
		if p.stats != nil {
			p.stats.IncVote("replay")
		}
		p.log.WithFields(logrus.Fields{"account": v.Account.String(), "sequence": v.Sequence}).Debug("vote processor: replay, discarding")
	}

	if hasMax && max.Sequence > v.Sequence+AmplificationGuardBand && p.hooks.ReplyWithMax != nil {
		p.hooks.ReplyWithMax(sender, max)
	}
}
