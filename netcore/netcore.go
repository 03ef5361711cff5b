// Package netcore implements Network: the UDP socket, header framing and
// per-kind dispatch that ties peer discovery, block/vote processing and
// rep crawling to the wire. It owns exactly one receive loop; everything
// it decodes gets handed off to a collaborator rather than processed
// in-line, so a slow ledger write never stalls the socket.
package netcore

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/peerset"
	"github.com/chratos-network/core/wire"
)

// PeerSet is the subset of peerset.Set's API this package depends on.
type PeerSet interface {
	Insert(ep wire.Endpoint, version uint8) bool
	Contacted(ep wire.Endpoint, version uint8) bool
	RandomFill() [8]wire.Endpoint
	RandomSet(n int) []wire.Endpoint
	Representatives(n int) []wire.Endpoint
	Get(ep wire.Endpoint) (peerset.Info, bool)
	Len() int
}

// SynCookies is the subset of syncookie.Table's API this package depends
// on.
type SynCookies interface {
	Assign(ep wire.Endpoint) (challenge [32]byte, ok bool)
	Validate(ep wire.Endpoint, nodeID wire.Account, signature wire.Signature) bool
}

// BlockProcessor enqueues a block whose proof of work has already been
// checked by the caller.
type BlockProcessor interface {
	Add(b *blocks.Block, originationTime time.Time)
}

// VoteProcessor enqueues a vote received from sender for asynchronous
// validation and dispatch.
type VoteProcessor interface {
	Add(v *blocks.Vote, sender wire.Endpoint)
}

// ActiveElections is the subset of election.ActiveElections's API this
// package depends on.
type ActiveElections interface {
	Publish(b *blocks.Block) error
}

// RepObserver is the subset of repcrawler.Crawler's API this package
// depends on.
type RepObserver interface {
	Observe(peer wire.Endpoint, vote *blocks.Vote)
}

// Stats counts protocol-level events by kind and outcome; nil is a valid
// no-op collaborator.
type Stats interface {
	Inc(kind wire.Kind, outcome string)
}

// Config tunes the socket, protocol version advertised and proof-of-work
// floor enforced on the receive path.
type Config struct {
	Self               wire.Endpoint
	ProtocolVersion    uint8
	ProtocolVersionMin uint8
	WorkDifficulty     uint8
	LiveNetwork        bool
	// Signer, if non-nil, lets this node answer confirm_req with a
	// confirm_ack and answer node_id_handshake queries. A node running
	// purely as a voter-less relay leaves this nil.
	Signer wire.Signer
}

// DefaultConfig mirrors this network's advertised protocol window.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:    wire.NodeIDHandshakeVersion,
		ProtocolVersionMin: wire.NodeIDHandshakeVersion,
		WorkDifficulty:     1,
		LiveNetwork:        true,
	}
}

// Network owns the UDP socket and the single receive loop dispatching
// each datagram by wire.Kind.
type Network struct {
	conn *net.UDPConn
	cfg  Config

	peers      PeerSet
	cookies    SynCookies
	blockproc  BlockProcessor
	voteproc   VoteProcessor
	elections  ActiveElections
	oracle     ledger.Oracle
	store      ledger.Store
	repcrawler RepObserver
	stats      Stats
	log        *logrus.Entry

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

// New creates a Network bound to conn. peers, blockproc, voteproc and log
// are used without nil checks and must be set; the other collaborators
// may be nil, in which case the corresponding dispatch step is skipped.
// store is only consulted when cfg.Signer is set, to
// answer confirm_req with a confirm_ack.
func New(conn *net.UDPConn, cfg Config, peers PeerSet, cookies SynCookies, blockproc BlockProcessor, voteproc VoteProcessor, elections ActiveElections, oracle ledger.Oracle, store ledger.Store, repcrawler RepObserver, stats Stats, log *logrus.Entry) *Network {
	return &Network{
		conn:       conn,
		cfg:        cfg,
		peers:      peers,
		cookies:    cookies,
		blockproc:  blockproc,
		voteproc:   voteproc,
		elections:  elections,
		oracle:     oracle,
		store:      store,
		repcrawler: repcrawler,
		stats:      stats,
		log:        log,
		closing:    make(chan struct{}),
	}
}

// Listen starts the receive loop in a background goroutine.
func (n *Network) Listen() {
	n.wg.Add(1)
	go n.receiveLoop()
}

// Stop closes the socket and waits for the receive loop to exit.
func (n *Network) Stop() {
	n.once.Do(func() {
		close(n.closing)
		n.conn.Close()
	})
	n.wg.Wait()
}

func (n *Network) receiveLoop() {
	defer n.wg.Done()
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		size, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-n.closing:
				return
			default:
				n.log.WithError(err).Debug("netcore: read error, continuing")
				continue
			}
		}
		sender, ok := n.endpointOf(addr)
		if !ok {
			continue
		}
		n.handleDatagram(sender, append([]byte(nil), buf[:size]...))
	}
}

func (n *Network) endpointOf(addr *net.UDPAddr) (wire.Endpoint, bool) {
	ip, ok := netipAddrFromUDP(addr)
	if !ok {
		return wire.Endpoint{}, false
	}
	ep, err := wire.NewEndpoint(ip, uint16(addr.Port))
	if err != nil {
		return wire.Endpoint{}, false
	}
	return ep, true
}

func (n *Network) incr(kind wire.Kind, outcome string) {
	if n.stats != nil {
		n.stats.Inc(kind, outcome)
	}
}

func (n *Network) handleDatagram(sender wire.Endpoint, data []byte) {
	if peerset.IsReserved(sender.IP(), n.cfg.LiveNetwork, false) {
		n.incr(wire.KindInvalid, "reserved_sender")
		n.log.WithField("peer", sender.String()).Debug("netcore: dropping datagram from reserved address")
		return
	}

	header, body, err := wire.ParseHeader(data)
	if err != nil {
		n.incr(wire.KindInvalid, "bad_header")
		return
	}
	if !header.Kind.IsValidOverUDP() {
		n.incr(header.Kind, "protocol_error")
		n.log.WithFields(logrus.Fields{"peer": sender.String(), "kind": header.Kind.String()}).
			Debug("netcore: stream-sync kind seen on datagram socket, discarding")
		return
	}

	switch header.Kind {
	case wire.KindKeepalive:
		n.handleKeepalive(sender, header, body)
	case wire.KindPublish:
		n.handlePublish(sender, header, body)
	case wire.KindConfirmReq:
		n.handleConfirmReq(sender, header, body)
	case wire.KindConfirmAck:
		n.handleConfirmAck(sender, header, body)
	case wire.KindNodeIDHandshake:
		n.handleNodeIDHandshake(sender, header, body)
	default:
		n.incr(header.Kind, "unknown_kind")
	}
}

func (n *Network) handleKeepalive(sender wire.Endpoint, header wire.Header, body []byte) {
	if n.peers.Contacted(sender, header.VersionUsing) {
		if n.cookies != nil {
			n.issueHandshakeQuery(sender)
		}
	}

	peers, err := decodeKeepalive(body)
	if err != nil {
		n.incr(wire.KindKeepalive, "parse_error")
		return
	}
	for _, ep := range peers {
		if ep.Addr.IsValid() && ep != (wire.Endpoint{}) {
			n.peers.Insert(ep, header.VersionUsing)
		}
	}
	n.incr(wire.KindKeepalive, "ok")
}

func (n *Network) handlePublish(sender wire.Endpoint, header wire.Header, body []byte) {
	n.peers.Contacted(sender, header.VersionUsing)

	block, err := blocks.DecodeBlock(body)
	if err != nil {
		n.incr(wire.KindPublish, "parse_error")
		return
	}
	if !block.VerifyWork(n.cfg.WorkDifficulty) {
		n.incr(wire.KindPublish, "insufficient_work")
		return
	}

	n.blockproc.Add(block, time.Now())
	if n.elections != nil {
		_ = n.elections.Publish(block)
	}
	n.incr(wire.KindPublish, "ok")
}

func (n *Network) handleConfirmReq(sender wire.Endpoint, header wire.Header, body []byte) {
	n.peers.Contacted(sender, header.VersionUsing)

	block, err := blocks.DecodeBlock(body)
	if err != nil {
		n.incr(wire.KindConfirmReq, "parse_error")
		return
	}
	if !block.VerifyWork(n.cfg.WorkDifficulty) {
		n.incr(wire.KindConfirmReq, "insufficient_work")
		return
	}

	n.blockproc.Add(block, time.Now())
	if n.elections != nil {
		_ = n.elections.Publish(block)
	}

	if n.cfg.Signer != nil && n.oracle != nil && n.store != nil {
		n.replyConfirmAck(sender, block)
	}
	n.incr(wire.KindConfirmReq, "ok")
}

func (n *Network) replyConfirmAck(sender wire.Endpoint, block *blocks.Block) {
	tx, err := n.oracle.Begin(false)
	if err != nil {
		return
	}
	defer tx.Discard()

	successor, ok := n.oracle.Successor(tx, block.Root())
	if !ok {
		return
	}
	vote, err := n.store.VoteGenerate(tx, successor, n.cfg.Signer)
	if err != nil {
		n.log.WithError(err).Debug("netcore: failed to generate confirm_ack")
		return
	}
	n.Send(sender, wire.KindConfirmAck, 0, vote.Encode())
}

func (n *Network) handleConfirmAck(sender wire.Endpoint, header wire.Header, body []byte) {
	n.peers.Contacted(sender, header.VersionUsing)

	vote, err := blocks.DecodeVote(body)
	if err != nil {
		n.incr(wire.KindConfirmAck, "parse_error")
		return
	}
	if !vote.Validate() {
		n.incr(wire.KindConfirmAck, "bad_signature")
		return
	}

	for _, elem := range vote.Blocks {
		if blk, ok := elem.Block(); ok {
			if !blk.VerifyWork(n.cfg.WorkDifficulty) {
				continue
			}
			n.blockproc.Add(blk, time.Now())
			if n.elections != nil {
				_ = n.elections.Publish(blk)
			}
		}
	}

	n.voteproc.Add(vote, sender)
	if n.repcrawler != nil {
		n.repcrawler.Observe(sender, vote)
	}
	n.incr(wire.KindConfirmAck, "ok")
}

func (n *Network) issueHandshakeQuery(sender wire.Endpoint) {
	challenge, ok := n.cookies.Assign(sender)
	if !ok {
		return
	}
	body, ext := encodeHandshake(&challenge, nil)
	n.Send(sender, wire.KindNodeIDHandshake, ext, body)
}

func (n *Network) handleNodeIDHandshake(sender wire.Endpoint, header wire.Header, body []byte) {
	if n.cookies == nil {
		return
	}
	query, response, err := decodeHandshake(body, header.Extensions)
	if err != nil {
		n.incr(wire.KindNodeIDHandshake, "parse_error")
		return
	}

	if response != nil {
		if n.cookies.Validate(sender, response.account, response.signature) {
			n.peers.Insert(sender, header.VersionUsing)
			n.incr(wire.KindNodeIDHandshake, "ok")
		} else {
			n.incr(wire.KindNodeIDHandshake, "bad_signature")
		}
	}

	if query != nil && n.cfg.Signer != nil {
		answer := handshakeResponse{
			account:   n.cfg.Signer.Account(),
			signature: n.cfg.Signer.Sign(query[:]),
		}
		replyBody, replyExt := encodeHandshake(nil, &answer)
		n.Send(sender, wire.KindNodeIDHandshake, replyExt, replyBody)
	}
}

// Send encodes a header for kind/extensions and writes header||body to ep.
func (n *Network) Send(ep wire.Endpoint, kind wire.Kind, extensions uint16, body []byte) {
	header := wire.Header{
		VersionUsing: n.cfg.ProtocolVersion,
		VersionMax:   n.cfg.ProtocolVersion,
		VersionMin:   n.cfg.ProtocolVersionMin,
		Kind:         kind,
		Extensions:   extensions,
	}
	encodedHeader := header.Encode()
	buf := make([]byte, 0, len(encodedHeader)+len(body))
	buf = append(buf, encodedHeader[:]...)
	buf = append(buf, body...)

	addr := udpAddrFromEndpoint(ep)
	if _, err := n.conn.WriteToUDP(buf, addr); err != nil {
		n.log.WithError(err).WithField("peer", ep.String()).Debug("netcore: write error")
	}
}

// BroadcastKeepalive sends a keepalive carrying a random sample of known
// peers to ep, the gossip half of the keepalive exchange.
func (n *Network) BroadcastKeepalive(ep wire.Endpoint) {
	body := encodeKeepalive(n.peers.RandomFill())
	n.Send(ep, wire.KindKeepalive, 0, body)
}
