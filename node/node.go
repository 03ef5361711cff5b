// Package node wires every component of this core together into one
// running process: the ledger oracle/store, the peer set and syn-cookie
// table, the block/vote processors, active elections, the rep crawler,
// the network transport, and the online-representative and gap-cache
// bookkeeping that feeds them. It owns the maintenance loop (peer
// purging, online-weight recalculation, keepalive broadcast), the I/O
// executor worker pool, and the process lifecycle (Run/Shutdown,
// SIGINT handling), following an initX-sequence-then-background-loop
// shape.
package node

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/arrival"
	"github.com/chratos-network/core/blockproc"
	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/config"
	"github.com/chratos-network/core/election"
	"github.com/chratos-network/core/events"
	"github.com/chratos-network/core/gapcache"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/netcore"
	"github.com/chratos-network/core/onlinereps"
	"github.com/chratos-network/core/peerset"
	"github.com/chratos-network/core/repcrawler"
	"github.com/chratos-network/core/statsvc"
	"github.com/chratos-network/core/syncookie"
	"github.com/chratos-network/core/timer"
	"github.com/chratos-network/core/voteproc"
	"github.com/chratos-network/core/wire"
)

// Node is the coordinator every long-running chratos-core process
// constructs exactly once.
type Node struct {
	cfg *config.Config
	log *logrus.Entry

	oracle ledger.Oracle
	store  ledger.Store
	signer wire.Signer

	conn *net.UDPConn
	self wire.Endpoint

	peers   *peerset.Set
	cookies *syncookie.Table
	alarm   *timer.Alarm
	online  *onlinereps.OnlineReps
	gaps    *gapcache.Cache
	arr     *arrival.Arrival
	bus     *events.Bus

	blockproc  *blockproc.Processor
	voteproc   *voteproc.Processor
	elections  *election.ActiveElections
	repcrawler *repcrawler.Crawler
	net        *netcore.Network
	stats      *statsvc.Registry
	statsSrv   *statsvc.Server

	executor chan func()

	recentMu    sync.Mutex
	recentBlock *blocks.Block

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New builds a Node and wires every collaborator's hooks to the right
// counterpart, but starts nothing -- call Run to bring it up.
func New(cfg *config.Config, oracle ledger.Oracle, store ledger.Store, bootstrap ledger.BootstrapInitiator, signer wire.Signer) (*Node, error) {
	self, conn, err := bindUDP(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("node: bind %s: %w", cfg.BindAddr, err)
	}

	log := cfg.Logger()

	n := &Node{
		cfg:        cfg,
		log:        log,
		oracle:     oracle,
		store:      store,
		signer:     signer,
		conn:       conn,
		self:       self,
		peers:      peerset.New(self, cfg.LiveNetwork),
		cookies:    syncookie.New(),
		alarm:      timer.New(),
		bus:        events.New(),
		executor:   make(chan func(), 256),
		sigintCh:   make(chan os.Signal, 1),
		shutdownCh: make(chan struct{}),
	}
	n.online = onlinereps.New(cfg.OnlineRepsCutoff, wire.Amount{Lo: cfg.OnlineWeightMinimum})
	n.arr = arrival.New()
	n.gaps = gapcache.New(oracle, store, bootstrap, n.online, n.alarm, cfg.BootstrapFractionNumerator)

	reg := prometheus.NewRegistry()
	n.stats = statsvc.New(reg)
	if cfg.StatsAddr != "" {
		n.statsSrv = statsvc.NewServer(cfg.StatsAddr, reg, log.WithField("component", "statsvc"))
	}

	n.blockproc = blockproc.New(oracle, store, n.arr, n.gaps, blockproc.Hooks{
		OnRecent: n.onRecentBlock,
		OnFork:   n.onFork,
	}, log.WithField("component", "blockproc"))

	n.voteproc = voteproc.New(electionVoter{n}, store, oracle, voteproc.Hooks{
		Observe:      n.onVoteObserved,
		ReplyWithMax: n.replyWithMax,
	}, n.stats, log.WithField("component", "voteproc"))

	electionCfg := election.DefaultConfig()
	electionCfg.OnlineWeightQuorumPercent = cfg.OnlineWeightQuorumPercent
	electionCfg.OnlineWeightMinimum = wire.Amount{Lo: cfg.OnlineWeightMinimum}
	electionCfg.LiveNetwork = cfg.LiveNetwork
	n.elections = election.New(oracle, n.online, election.Hooks{
		Broadcast:                func(b *blocks.Block) { n.net.BroadcastBlock(b) },
		GenerateAndBroadcastVote: n.generateAndBroadcastVote,
		RequestConfirmation:      func(hash wire.Hash, to []wire.Endpoint) { n.net.RequestConfirmation(hash, to) },
		NonVotingRepresentatives: func(root wire.Hash, voted map[wire.Account]struct{}) ([]wire.Endpoint, wire.Amount) {
			return n.net.NonVotingRepresentatives(root, voted)
		},
		Force: n.blockproc.Force,
	}, electionCfg, n.alarm, n.stats, log.WithField("component", "election"))

	n.repcrawler = repcrawler.New(n.peers, oracle, recentBlockSource{n}, n.sendConfirmReq, n.alarm, repcrawler.DefaultConfig(), log.WithField("component", "repcrawler"))

	netcfg := netcore.DefaultConfig()
	netcfg.Self = self
	netcfg.WorkDifficulty = cfg.WorkDifficulty
	netcfg.LiveNetwork = cfg.LiveNetwork
	netcfg.Signer = signer
	n.net = netcore.New(conn, netcfg, n.peers, n.cookies, n.blockproc, n.voteproc, n.elections, oracle, store, n.repcrawler, n.stats, log.WithField("component", "netcore"))

	n.bus.OnBlock(func(b *blocks.Block, result ledger.ProcessResult) {
		n.recentMu.Lock()
		n.recentBlock = b
		n.recentMu.Unlock()
	})

	signal.Notify(n.sigintCh, os.Interrupt, syscall.SIGINT)
	return n, nil
}

func bindUDP(addr string) (wire.Endpoint, *net.UDPConn, error) {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return wire.Endpoint{}, nil, err
	}
	conn, err := net.ListenUDP("udp", resolved)
	if err != nil {
		return wire.Endpoint{}, nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr)
	ip, ok := netip.AddrFromSlice(local.IP)
	if !ok {
		conn.Close()
		return wire.Endpoint{}, nil, fmt.Errorf("node: cannot parse bound address %s", local)
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	ep, err := wire.NewEndpoint(ip, uint16(local.Port))
	if err != nil {
		conn.Close()
		return wire.Endpoint{}, nil, err
	}
	return ep, conn, nil
}

// onRecentBlock implements the OnRecent follow-up: start this root's
// election (an already-active election is left as it is and the refusal
// logged at debug) and fire the block observer bus.
func (n *Node) onRecentBlock(b *blocks.Block) {
	if err := n.elections.Start(b, n.blockConfirmed); err != nil {
		n.log.WithError(err).WithField("root", b.Root()).Debug("node: election start")
	}
	n.bus.FireBlock(b, ledger.Progress)
}

// onFork implements the OnFork follow-up: look up the block already
// occupying b's root and start a fork election between the two.
func (n *Node) onFork(b *blocks.Block) {
	tx, err := n.oracle.Begin(false)
	if err != nil {
		n.log.WithError(err).Error("node: onFork begin")
		return
	}
	defer tx.Discard()
	forkPeer, ok := n.oracle.ForkedBlock(tx, b)
	if !ok {
		return
	}
	if err := n.elections.StartFork(b, forkPeer, n.blockConfirmed); err != nil {
		n.log.WithError(err).WithField("root", b.Root()).Debug("node: election start fork")
	}
}

func (n *Node) blockConfirmed(b *blocks.Block) {
	n.log.WithField("hash", b.Hash()).Info("node: election confirmed")
}

// onVoteObserved implements voteproc.Hooks.Observe: feed the vote into
// the gap cache's bootstrap tally, the online-representative set, and
// the external event bus.
func (n *Node) onVoteObserved(v *blocks.Vote) {
	n.gaps.Vote(v)
	tx, err := n.oracle.Begin(false)
	if err == nil {
		weight := n.oracle.Weight(tx, v.Account)
		tx.Discard()
		n.online.Observe(v.Account, weight, time.Now())
	}
	n.bus.FireVote(v)
}

// replyWithMax implements voteproc.Hooks.ReplyWithMax: unicast our
// last-known vote for the stale rebroadcaster's account back to it.
func (n *Node) replyWithMax(sender wire.Endpoint, max *blocks.Vote) {
	n.net.Send(sender, wire.KindConfirmAck, 0, max.Encode())
}

// generateAndBroadcastVote implements election.Hooks.GenerateAndBroadcastVote:
// ask the ledger to generate a vote for each root's successor and
// broadcast it. Without a configured signer every root's successor is
// rebroadcast as a raw block instead; with one, a root whose successor
// is unknown or whose vote generation fails is skipped.
func (n *Node) generateAndBroadcastVote(roots []wire.Hash) {
	if n.signer == nil {
		n.rebroadcastWinners(roots)
		return
	}
	tx, err := n.oracle.Begin(false)
	if err != nil {
		n.log.WithError(err).Error("node: generateAndBroadcastVote begin")
		return
	}
	defer tx.Discard()

	for _, root := range roots {
		winner, ok := n.oracle.Successor(tx, root)
		if !ok {
			continue
		}
		vote, err := n.store.VoteGenerate(tx, winner, n.signer)
		if err != nil {
			n.log.WithError(err).WithField("root", root).Debug("node: VoteGenerate")
			continue
		}
		n.net.BroadcastVote(vote)
	}
}

func (n *Node) rebroadcastWinners(roots []wire.Hash) {
	tx, err := n.oracle.Begin(false)
	if err != nil {
		return
	}
	defer tx.Discard()
	for _, root := range roots {
		if winner, ok := n.oracle.Successor(tx, root); ok {
			n.net.BroadcastBlock(winner)
		}
	}
}

func (n *Node) sendConfirmReq(ep wire.Endpoint, block *blocks.Block) {
	n.net.RequestConfirmation(block.Hash(), []wire.Endpoint{ep})
}

// electionVoter adapts ActiveElections to voteproc.ActiveElections.
type electionVoter struct{ n *Node }

func (e electionVoter) Vote(v *blocks.Vote) (touchedAny bool, replay bool) {
	return e.n.elections.Vote(v)
}

// recentBlockSource adapts Node's bus-fed cache to repcrawler.RecentBlockSource.
type recentBlockSource struct{ n *Node }

func (r recentBlockSource) RecentBlock() (*blocks.Block, bool) {
	r.n.recentMu.Lock()
	defer r.n.recentMu.Unlock()
	return r.n.recentBlock, r.n.recentBlock != nil
}

