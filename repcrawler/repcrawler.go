// Package repcrawler implements RepCrawler: a periodic probe that asks
// the stalest-known peers to confirm a self-chosen recent block, then
// attributes a representative's voting weight to whichever peer answers
// with a plausible confirm_ack, so PeerSet's rep_weight index gets
// populated without waiting for that representative to vote unprompted.
package repcrawler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/timer"
	"github.com/chratos-network/core/wire"
)

// Config tunes the crawl cadence and probe fan-out.
type Config struct {
	// CrawlInterval is how often a new round of probes goes out.
	CrawlInterval time.Duration
	// ProbeTTL is how long a probed hash stays "active" (eligible to
	// attribute a confirm_ack to this crawl) before it is forgotten.
	ProbeTTL time.Duration
	// PeersPerRound is how many stalest peers get a confirm_req each
	// round.
	PeersPerRound int
}

// DefaultConfig mirrors the crawl cadence and probe lifetime the
// original node used: a new round every 4s, probes live for 5s.
func DefaultConfig() Config {
	return Config{
		CrawlInterval: 4 * time.Second,
		ProbeTTL:      5 * time.Second,
		PeersPerRound: 10,
	}
}

// PeerSet is the collaborator that supplies stale peers to probe and
// records the weight this crawler attributes to them.
type PeerSet interface {
	RepCrawl(n int) []wire.Endpoint
	MarkRepRequested(ep wire.Endpoint)
	RepResponse(ep wire.Endpoint, rep wire.Account, weight wire.Amount) bool
}

// RecentBlockSource picks the block hash a crawl round probes with.
type RecentBlockSource interface {
	RecentBlock() (*blocks.Block, bool)
}

// SendConfirmReq unicasts a confirm_req for block to ep.
type SendConfirmReq func(ep wire.Endpoint, block *blocks.Block)

// Crawler runs the periodic probe loop and answers is_pr(hash) queries
// for the network dispatch path.
type Crawler struct {
	mu     sync.Mutex
	active map[wire.Hash]time.Time

	peers  PeerSet
	oracle ledger.Oracle
	recent RecentBlockSource
	send   SendConfirmReq
	alarm  *timer.Alarm
	cfg    Config
	log    *logrus.Entry

	handle  timer.Handle
	stopped bool
}

// New creates a Crawler. Call Start to arm the periodic loop.
func New(peers PeerSet, oracle ledger.Oracle, recent RecentBlockSource, send SendConfirmReq, alarm *timer.Alarm, cfg Config, log *logrus.Entry) *Crawler {
	return &Crawler{
		active: make(map[wire.Hash]time.Time),
		peers:  peers,
		oracle: oracle,
		recent: recent,
		send:   send,
		alarm:  alarm,
		cfg:    cfg,
		log:    log,
	}
}

// Start arms the first crawl round.
func (c *Crawler) Start() {
	c.mu.Lock()
	c.handle = c.alarm.Add(c.cfg.CrawlInterval, c.crawlOnce)
	c.mu.Unlock()
}

// Stop disarms the crawl loop; in-flight probes still expire on their
// own TTL.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.alarm.Cancel(c.handle)
}

func (c *Crawler) crawlOnce() {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	block, ok := c.recent.RecentBlock()
	if ok {
		hash := block.Hash()
		c.addActive(hash)
		c.alarm.Add(c.cfg.ProbeTTL, func() { c.removeActive(hash) })

		for _, ep := range c.peers.RepCrawl(c.cfg.PeersPerRound) {
			c.peers.MarkRepRequested(ep)
			c.send(ep, block)
		}
	} else {
		c.log.Debug("rep crawler: no recent block to probe with, skipping round")
	}

	c.mu.Lock()
	if !c.stopped {
		c.handle = c.alarm.Add(c.cfg.CrawlInterval, c.crawlOnce)
	}
	c.mu.Unlock()
}

func (c *Crawler) addActive(hash wire.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[hash] = time.Now()
}

func (c *Crawler) removeActive(hash wire.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, hash)
}

// IsPR implements is_pr(hash): reports whether hash is one of this
// crawler's outstanding probes.
func (c *Crawler) IsPR(hash wire.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[hash]
	return ok
}

// Observe is called by the network dispatch path when a confirm_ack
// arrives from peer: for each block the vote names that is one of this
// crawler's outstanding probes, looks up the voting account's ledger
// weight and, if nonzero, forwards (peer, account, weight) to PeerSet so
// a newly-identified representative gets recorded.
func (c *Crawler) Observe(peer wire.Endpoint, vote *blocks.Vote) {
	probed := false
	for _, elem := range vote.Blocks {
		if c.IsPR(elem.Hash()) {
			probed = true
			break
		}
	}
	if !probed {
		return
	}

	tx, err := c.oracle.Begin(false)
	if err != nil {
		return
	}
	weight := c.oracle.Weight(tx, vote.Account)
	tx.Discard()

	if weight.IsZero() {
		return
	}

	if c.peers.RepResponse(peer, vote.Account, weight) {
		c.log.WithFields(logrus.Fields{"peer": peer.String(), "account": vote.Account.String()}).Info("rep crawler: found a new representative")
	}
}
