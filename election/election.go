// Package election implements ActiveElections: one Election state machine
// per block root, the periodic announcement loop that rebroadcasts each
// election's current winner and solicits confirm_req replies, and the
// weighted tally/quorum math that decides when a root is confirmed.
package election

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/common"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/timer"
	"github.com/chratos-network/core/wire"
)

// Config bundles the tunables the announcement loop and quorum/admission
// math read. Field names mirror the account-facing settings this core's
// top-level configuration exposes under the same names.
type Config struct {
	// OnlineWeightQuorumPercent is the quorum margin as a percentage of
	// online stake (delta = online_stake() * OnlineWeightQuorumPercent/100).
	OnlineWeightQuorumPercent int
	// OnlineWeightMinimum floors the sum-of-weights check that gates
	// forcing a new winner through BlockProcessor.
	OnlineWeightMinimum wire.Amount

	// AnnounceInterval is the announcement loop's tick cadence.
	AnnounceInterval time.Duration
	// AnnouncementMin is the minimum number of announcements a confirmed
	// or aborted election must have accumulated before it is retired
	// into history.
	AnnouncementMin int
	// AnnouncementLong is the announcement count past which an election
	// is considered stalled/unconfirmed and periodically tally-dumped.
	AnnouncementLong int
	// MaxAlternatives bounds how many competing blocks a single
	// election tracks.
	MaxAlternatives int
	// AltMinTallySharePercent is the minimum share of online stake a
	// would-be 11th+ alternative's tally must already hold to be
	// admitted.
	AltMinTallySharePercent int
	// MassRequestLimit is how many network-wide (mass) confirm_req rounds
	// an election may run before every later round targets only the
	// non-voting representatives, regardless of their weight.
	MassRequestLimit int
	// ConfirmReqBatch and ConfirmReqSpacing bound how many peers get a
	// confirm_req per announcement and the delay between them.
	ConfirmReqBatch   int
	ConfirmReqSpacing time.Duration
	// VoteBatch is carried in the configuration but not read by this
	// package: the announcement loop asks for a vote on one root at a
	// time and does not bundle hashes across elections.
	VoteBatch int
	// HistoryCap bounds the retired-election ring buffer.
	HistoryCap int
	// LiveNetwork gates the sub-0.1%-weight vote rejection tier; test
	// networks admit every weight so small local clusters can reach
	// quorum.
	LiveNetwork bool
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		OnlineWeightQuorumPercent: 50,
		AnnounceInterval:          100 * time.Millisecond,
		AnnouncementMin:           4,
		AnnouncementLong:          20,
		MaxAlternatives:           10,
		AltMinTallySharePercent:   10,
		MassRequestLimit:          20,
		ConfirmReqBatch:           10,
		ConfirmReqSpacing:         50 * time.Millisecond,
		VoteBatch:                 blocks.MaxVoteBlocks,
		HistoryCap:                128,
		LiveNetwork:               true,
	}
}

// OnlineStaker reports the node's live online-stake estimate, used to
// derive the quorum delta and the vote-admission weight tiers.
type OnlineStaker interface {
	OnlineStake() wire.Amount
}

// Stats counts election lifecycle transitions; nil is a valid no-op
// collaborator.
type Stats interface {
	IncElection(outcome string)
}

// Hooks are the side effects an Election or ActiveElections triggers
// outside their own bookkeeping, kept as construction-time callbacks
// rather than direct dependencies on netcore/blockproc so this package
// stays free to test in isolation.
type Hooks struct {
	// Broadcast rebroadcasts b, the election's current winner, as a bare
	// block; it is used only when GenerateAndBroadcastVote is nil.
	Broadcast func(b *blocks.Block)
	// GenerateAndBroadcastVote asks for a vote on each given root's
	// current winner to be generated and broadcast, in place of a raw
	// block rebroadcast. The announcement loop passes a single root per
	// call; hashes are not batched across elections.
	GenerateAndBroadcastVote func(roots []wire.Hash)
	// RequestConfirmation sends confirm_req for hash either to the
	// given endpoints (non-voting reps) or, when to is empty, to the
	// network at large.
	RequestConfirmation func(hash wire.Hash, to []wire.Endpoint)
	// NonVotingRepresentatives returns currently-online representative
	// endpoints that have not voted for root yet, for confirm_req
	// targeting; used together with their aggregate weight.
	NonVotingRepresentatives func(root wire.Hash, voted map[wire.Account]struct{}) (endpoints []wire.Endpoint, weight wire.Amount)
	// Force pushes a new winning block through BlockProcessor ahead of
	// the normal queue, for quorum-driven winner replacement.
	Force func(b *blocks.Block)
}

type voteRecord struct {
	account  wire.Account
	sequence uint64
	hash     wire.Hash
	time     time.Time
}

// status is an election's externally-visible current winner.
type status struct {
	winner wire.Hash
}

// Election is the per-root state machine: the set of competing blocks,
// the last vote seen from each representative, and the confirmed/aborted
// terminal flags.
type Election struct {
	mu sync.Mutex

	root   wire.Hash
	blocks map[wire.Hash]*blocks.Block

	lastVotes map[wire.Account]voteRecord
	status    status

	confirmed     bool
	aborted       bool
	announcements int
	massRequests  int

	onConfirm func(b *blocks.Block)

	col *collaborators
}

// collaborators are the shared read-only dependencies every Election in
// an ActiveElections set was created with.
type collaborators struct {
	oracle ledger.Oracle
	online OnlineStaker
	hooks  Hooks
	cfg    Config
	stats  Stats
	log    *logrus.Entry
}

// ActiveElections is the map of in-flight elections, keyed by root with a
// secondary index by block hash so confirm_ack processing can resolve an
// election without knowing its root up front.
type ActiveElections struct {
	mu sync.Mutex

	byRoot map[wire.Hash]*Election
	byHash map[wire.Hash]*Election

	history *common.Ring
	alarm   *timer.Alarm
	handle  timer.Handle
	started bool

	col *collaborators
}

// New creates an ActiveElections and arms its announcement loop on alarm.
// stats may be nil.
func New(oracle ledger.Oracle, online OnlineStaker, hooks Hooks, cfg Config, alarm *timer.Alarm, stats Stats, log *logrus.Entry) *ActiveElections {
	a := &ActiveElections{
		byRoot:  make(map[wire.Hash]*Election),
		byHash:  make(map[wire.Hash]*Election),
		history: common.NewRing(cfg.HistoryCap),
		alarm:   alarm,
		col: &collaborators{
			oracle: oracle,
			online: online,
			hooks:  hooks,
			cfg:    cfg,
			stats:  stats,
			log:    log,
		},
	}
	a.armLocked()
	return a
}

func (a *ActiveElections) armLocked() {
	a.handle = a.alarm.Add(a.col.cfg.AnnounceInterval, a.tick)
}

func (a *ActiveElections) tick() {
	a.announceOnce()
	a.mu.Lock()
	a.handle = a.alarm.Add(a.col.cfg.AnnounceInterval, a.tick)
	a.mu.Unlock()
}

// Start implements start(block, on_confirm): creates a new election for
// block's root seeded with a sentinel not_an_account vote, or returns an
// error if one already exists.
func (a *ActiveElections) Start(b *blocks.Block, onConfirm func(*blocks.Block)) error {
	return a.start(b, nil, onConfirm)
}

// StartFork implements the start((block, fork_peer_block), on_confirm)
// overload: seeds the new election with both the local block and the
// competing peer block as initial alternatives.
func (a *ActiveElections) StartFork(b, forkPeerBlock *blocks.Block, onConfirm func(*blocks.Block)) error {
	return a.start(b, forkPeerBlock, onConfirm)
}

func (a *ActiveElections) start(b, alt *blocks.Block, onConfirm func(*blocks.Block)) error {
	root := b.Root()

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byRoot[root]; exists {
		return common.NewCoreErr("election", common.Duplicate, "election already active for root "+root.String())
	}

	e := &Election{
		root:      root,
		blocks:    map[wire.Hash]*blocks.Block{b.Hash(): b},
		lastVotes: make(map[wire.Account]voteRecord),
		status:    status{winner: b.Hash()},
		onConfirm: onConfirm,
		col:       a.col,
	}
	e.lastVotes[wire.NotAnAccount] = voteRecord{account: wire.NotAnAccount, time: time.Now(), hash: b.Hash()}
	if alt != nil {
		e.blocks[alt.Hash()] = alt
	}

	a.byRoot[root] = e
	a.byHash[b.Hash()] = e
	if alt != nil {
		a.byHash[alt.Hash()] = e
	}
	if a.col.stats != nil {
		a.col.stats.IncElection("started")
	}
	return nil
}

// Publish implements publish(block): adds block as an
// alternative to its root's election. Rejected once an election already
// holds MaxAlternatives blocks and the new block's current tally share
// is under AltMinTallySharePercent of online stake.
func (a *ActiveElections) Publish(b *blocks.Block) error {
	root := b.Root()

	a.mu.Lock()
	e, ok := a.byRoot[root]
	a.mu.Unlock()
	if !ok {
		return common.NewCoreErr("election", common.KeyNotFound, "no election for root "+root.String())
	}

	if err := e.publish(b); err != nil {
		return err
	}

	a.mu.Lock()
	a.byHash[b.Hash()] = e
	a.mu.Unlock()
	return nil
}

func (e *Election) publish(b *blocks.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.blocks[b.Hash()]; exists {
		return nil
	}
	if len(e.blocks) < e.col.cfg.MaxAlternatives {
		e.blocks[b.Hash()] = b
		return nil
	}

	share := e.tallyLocked()[b.Hash()]
	online := e.col.online.OnlineStake()
	if share.MulUint64(100).Cmp(online.MulUint64(uint64(e.col.cfg.AltMinTallySharePercent))) < 0 {
		return common.NewCoreErr("election", common.Full, "election already holds max alternatives")
	}
	e.blocks[b.Hash()] = b
	return nil
}

// Vote implements vote(vote): routes v to every election that
// owns one of v's block hashes, returning whether it was treated as a
// replay by at least one election it reached (and false, vacuously, if
// it reached none).
func (a *ActiveElections) Vote(v *blocks.Vote) (touchedAny bool, replay bool) {
	touched := make(map[wire.Hash]*Election)
	a.mu.Lock()
	for _, elem := range v.Blocks {
		if e, ok := a.byHash[elem.Hash()]; ok {
			touched[e.root] = e
		}
	}
	a.mu.Unlock()

	for _, e := range touched {
		admitted, isReplay := e.vote(v)
		touchedAny = true
		if isReplay {
			replay = true
		}
		if admitted {
			a.absorbWinnerChange(e)
		}
	}
	return touchedAny, replay
}

// vote applies the per-election admission rule and, if admitted,
// recomputes the tally and checks quorum. Returns (admitted, replay).
func (e *Election) vote(v *blocks.Vote) (admitted bool, replay bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.confirmed || e.aborted {
		return false, false
	}

	hash := v.Blocks[0].Hash()
	for _, elem := range v.Blocks {
		if _, ok := e.blocks[elem.Hash()]; ok {
			hash = elem.Hash()
			break
		}
	}

	if !e.admissionAllowedLocked(v.Account, v.Sequence, hash) {
		last, known := e.lastVotes[v.Account]
		return false, known && !blocks.Less(last.sequence, last.hash, v.Sequence, hash)
	}

	e.lastVotes[v.Account] = voteRecord{account: v.Account, sequence: v.Sequence, hash: hash, time: time.Now()}
	e.recomputeQuorumLocked()
	return true, false
}

// admissionAllowedLocked implements the per-rep flood-control rule:
// reject outright below a liveNetwork weight floor, otherwise require
// (sequence, hash) to strictly advance and the rep's weight-tiered
// cooldown to have elapsed.
func (e *Election) admissionAllowedLocked(rep wire.Account, sequence uint64, hash wire.Hash) bool {
	last, known := e.lastVotes[rep]
	if !known {
		return e.weightTierAllowsLocked(rep)
	}
	if !blocks.Less(last.sequence, last.hash, sequence, hash) {
		return false
	}
	if !e.weightTierAllowsLocked(rep) {
		return false
	}
	return time.Since(last.time) >= e.cooldownLocked(rep)
}

func (e *Election) weightTierAllowsLocked(rep wire.Account) bool {
	if !e.col.cfg.LiveNetwork {
		return true
	}
	weight := e.repWeightLocked(rep)
	online := e.col.online.OnlineStake()
	// weight < 0.1% of online stake.
	return weight.MulUint64(1000).Cmp(online) >= 0
}

func (e *Election) cooldownLocked(rep wire.Account) time.Duration {
	weight := e.repWeightLocked(rep)
	online := e.col.online.OnlineStake()
	switch {
	case weight.MulUint64(100).Cmp(online) < 0: // < 1%
		return 15 * time.Second
	case weight.MulUint64(20).Cmp(online) < 0: // < 5%
		return 5 * time.Second
	default:
		return time.Second
	}
}

func (e *Election) repWeightLocked(rep wire.Account) wire.Amount {
	tx, err := e.col.oracle.Begin(false)
	if err != nil {
		return wire.Amount{}
	}
	defer tx.Discard()
	return e.col.oracle.Weight(tx, rep)
}

// tallyLocked sums ledger.weight(rep) for each rep's last-voted hash.
func (e *Election) tallyLocked() map[wire.Hash]wire.Amount {
	tx, err := e.col.oracle.Begin(false)
	if err != nil {
		return nil
	}
	defer tx.Discard()

	tallies := make(map[wire.Hash]wire.Amount)
	for rep, rec := range e.lastVotes {
		w := e.col.oracle.Weight(tx, rep)
		tallies[rec.hash] = tallies[rec.hash].Add(w)
	}
	return tallies
}

// recomputeQuorumLocked applies the quorum/tally rule: if the summed
// weight crosses the online minimum and the top block differs from the
// current winner, the top block becomes the winner and is forced through
// BlockProcessor; if the top block's tally exceeds the runner-up's by the
// configured delta (quorum), the election is confirmed exactly once.
func (e *Election) recomputeQuorumLocked() {
	tallies := e.tallyLocked()
	if len(tallies) == 0 {
		return
	}

	type weighed struct {
		hash   wire.Hash
		weight wire.Amount
	}
	ordered := make([]weighed, 0, len(tallies))
	var sum wire.Amount
	for h, w := range tallies {
		ordered = append(ordered, weighed{hash: h, weight: w})
		sum = sum.Add(w)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].weight.Cmp(ordered[j].weight) > 0 })

	first := ordered[0]
	var second wire.Amount
	if len(ordered) > 1 {
		second = ordered[1].weight
	}

	online := e.col.online.OnlineStake()
	delta := online.MulPercent(e.col.cfg.OnlineWeightQuorumPercent)
	quorumHolds := first.weight.Cmp(second.Add(delta)) > 0

	if sum.Cmp(e.col.cfg.OnlineWeightMinimum) >= 0 && first.hash != e.status.winner {
		e.status.winner = first.hash
		if b, ok := e.blocks[first.hash]; ok && e.col.hooks.Force != nil {
			e.col.hooks.Force(b)
		}
	}

	if quorumHolds && !e.confirmed {
		e.confirmed = true
		if e.col.stats != nil {
			e.col.stats.IncElection("confirmed")
		}
		if b, ok := e.blocks[e.status.winner]; ok && e.onConfirm != nil {
			e.onConfirm(b)
		}
	}
}

// absorbWinnerChange re-indexes byHash after a vote may have introduced
// a winner whose block wasn't previously tracked under this root (it was
// admitted via publish before any vote named it the leader).
func (a *ActiveElections) absorbWinnerChange(e *Election) {
	e.mu.Lock()
	hashes := make([]wire.Hash, 0, len(e.blocks))
	for h := range e.blocks {
		hashes = append(hashes, h)
	}
	e.mu.Unlock()

	a.mu.Lock()
	for _, h := range hashes {
		a.byHash[h] = e
	}
	a.mu.Unlock()
}

// Erase implements erase(block): removes b's election entirely,
// regardless of confirmed/aborted state.
func (a *ActiveElections) Erase(b *blocks.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.byRoot[b.Root()]
	if !ok {
		return
	}
	a.removeLocked(e)
}

func (a *ActiveElections) removeLocked(e *Election) {
	delete(a.byRoot, e.root)
	e.mu.Lock()
	for h := range e.blocks {
		delete(a.byHash, h)
	}
	e.mu.Unlock()
}

// Active implements active(block): reports whether b's root
// currently has an election.
func (a *ActiveElections) Active(b *blocks.Block) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byRoot[b.Root()]
	return ok
}

// ListBlocks implements list_blocks(): every alternative block
// tracked by b's root's election.
func (a *ActiveElections) ListBlocks(b *blocks.Block) []*blocks.Block {
	a.mu.Lock()
	e, ok := a.byRoot[b.Root()]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*blocks.Block, 0, len(e.blocks))
	for _, blk := range e.blocks {
		out = append(out, blk)
	}
	return out
}

// Len reports the number of currently active elections.
func (a *ActiveElections) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byRoot)
}

// Stop disarms the announcement loop.
func (a *ActiveElections) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alarm.Cancel(a.handle)
}

// announceOnce runs one pass of the announcement loop over every active
// election: retiring confirmed/aborted ones into history, and otherwise
// rebroadcasting the winner and, every fourth announcement, soliciting
// confirm_req from whichever representatives have not yet voted.
func (a *ActiveElections) announceOnce() {
	a.mu.Lock()
	elections := make([]*Election, 0, len(a.byRoot))
	for _, e := range a.byRoot {
		elections = append(elections, e)
	}
	a.mu.Unlock()

	for _, e := range elections {
		if retire := e.announce(); retire {
			a.mu.Lock()
			a.history.Push(e.root)
			a.removeLocked(e)
			a.mu.Unlock()
		}
	}
}

// announce runs one election's share of the announcement loop and
// reports whether it should now be retired.
func (e *Election) announce() (retire bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.col.cfg

	if (e.confirmed || e.aborted) && e.announcements >= cfg.AnnouncementMin-1 {
		return true
	}

	if e.announcements > cfg.AnnouncementLong {
		if e.announcements%50 == 0 {
			e.col.log.WithFields(logrus.Fields{
				"root":          e.root.String(),
				"announcements": e.announcements,
				"tally":         e.tallyLocked(),
			}).Info("election: still unconfirmed, dumping tally")
		}
	}

	if e.announcements < cfg.AnnouncementLong || e.announcements%cfg.AnnouncementLong == 1 {
		e.rebroadcastLocked()
	}

	if e.announcements%4 == 0 {
		e.requestConfirmationsLocked()
	}

	e.announcements++
	return false
}

func (e *Election) rebroadcastLocked() {
	winner, ok := e.blocks[e.status.winner]
	if !ok {
		return
	}

	tx, err := e.col.oracle.Begin(false)
	if err != nil {
		return
	}
	fits := e.col.oracle.CouldFit(tx, winner)
	tx.Discard()

	if !fits {
		if e.announcements > 3 && !e.aborted {
			e.aborted = true
			if e.col.stats != nil {
				e.col.stats.IncElection("aborted")
			}
		}
		return
	}

	if e.col.hooks.GenerateAndBroadcastVote != nil {
		e.col.hooks.GenerateAndBroadcastVote([]wire.Hash{e.root})
	} else if e.col.hooks.Broadcast != nil {
		e.col.hooks.Broadcast(winner)
	}
}

// requestConfirmationsLocked decides between a targeted confirm_req (to
// the non-voting representatives, cheap once their combined weight is
// worth chasing) and a network-wide broadcast (cheaper to reason about
// when non-voting weight is negligible). Per-peer spacing of a targeted
// round is the caller's responsibility (RequestConfirmation receives the
// whole batch at once).
func (e *Election) requestConfirmationsLocked() {
	if e.col.hooks.NonVotingRepresentatives == nil || e.col.hooks.RequestConfirmation == nil {
		return
	}

	voted := make(map[wire.Account]struct{}, len(e.lastVotes))
	for rep := range e.lastVotes {
		voted[rep] = struct{}{}
	}

	endpoints, weight := e.col.hooks.NonVotingRepresentatives(e.root, voted)

	targeted := weight.Cmp(e.col.cfg.OnlineWeightMinimum) > 0 || e.massRequests >= e.col.cfg.MassRequestLimit
	if targeted {
		if len(endpoints) > e.col.cfg.ConfirmReqBatch {
			endpoints = endpoints[:e.col.cfg.ConfirmReqBatch]
		}
		e.col.hooks.RequestConfirmation(e.status.winner, endpoints)
	} else {
		e.col.hooks.RequestConfirmation(e.status.winner, nil)
		e.massRequests++
	}
}
