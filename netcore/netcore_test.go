package netcore

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/common"
	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/ledger/ledgertest"
	"github.com/chratos-network/core/peerset"
	"github.com/chratos-network/core/syncookie"
	"github.com/chratos-network/core/wire"
)

func newSigner(t *testing.T) wire.KeyPairSigner {
	t.Helper()
	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}
}

type stubPeerSet struct {
	mu         sync.Mutex
	inserted   []wire.Endpoint
	contacted  []wire.Endpoint
	needsShake bool
}

func (s *stubPeerSet) Insert(ep wire.Endpoint, version uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, ep)
	return true
}

func (s *stubPeerSet) Contacted(ep wire.Endpoint, version uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacted = append(s.contacted, ep)
	return s.needsShake
}

func (s *stubPeerSet) RandomFill() [8]wire.Endpoint { return [8]wire.Endpoint{} }

func (s *stubPeerSet) RandomSet(n int) []wire.Endpoint { return nil }

func (s *stubPeerSet) Representatives(n int) []wire.Endpoint { return nil }

func (s *stubPeerSet) Get(ep wire.Endpoint) (peerset.Info, bool) { return peerset.Info{}, false }

func (s *stubPeerSet) Len() int { return 0 }

type stubBlockProc struct {
	mu     sync.Mutex
	blocks []*blocks.Block
}

func (b *stubBlockProc) Add(blk *blocks.Block, originationTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks = append(b.blocks, blk)
}

func (b *stubBlockProc) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks)
}

type stubVoteProc struct {
	mu    sync.Mutex
	votes []*blocks.Vote
}

func (v *stubVoteProc) Add(vote *blocks.Vote, sender wire.Endpoint) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.votes = append(v.votes, vote)
}

func (v *stubVoteProc) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.votes)
}

type stubElections struct {
	mu        sync.Mutex
	published []*blocks.Block
}

func (e *stubElections) Publish(b *blocks.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, b)
	return nil
}

func localUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv6loopback, Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestNetwork(t *testing.T, peers *stubPeerSet, blockproc *stubBlockProc, voteproc *stubVoteProc, elections *stubElections, oracle *ledgertest.Store) (*Network, *net.UDPConn) {
	t.Helper()
	conn := localUDPConn(t)
	cfg := DefaultConfig()
	cfg.WorkDifficulty = 0
	n := New(conn, cfg, peers, syncookie.New(), blockproc, voteproc, elections, oracle, oracle, nil, nil, common.NewTestLogger(t))
	return n, conn
}

func newLedger(t *testing.T) *ledgertest.Store {
	t.Helper()
	store, err := ledgertest.Open(t.TempDir() + "/netcore")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sendRaw(t *testing.T, to *net.UDPConn, data []byte) {
	t.Helper()
	from, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv6loopback, Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer from.Close()
	if _, err := from.WriteToUDP(data, to.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}
}

func header(kind wire.Kind, ext uint16) []byte {
	h := wire.Header{VersionUsing: wire.NodeIDHandshakeVersion, VersionMax: wire.NodeIDHandshakeVersion, VersionMin: wire.NodeIDHandshakeVersion, Kind: kind, Extensions: ext}
	enc := h.Encode()
	return append([]byte(nil), enc[:]...)
}

func TestHandlePublishEnqueuesBlockAndPublishesElection(t *testing.T) {
	signer := newSigner(t)
	blk := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 1}}
	blk.SignWith(signer)

	peers := &stubPeerSet{}
	blockproc := &stubBlockProc{}
	elections := &stubElections{}
	ledger := newLedger(t)

	n, conn := newTestNetwork(t, peers, blockproc, &stubVoteProc{}, elections, ledger)
	n.Listen()
	t.Cleanup(n.Stop)

	data := append(header(wire.KindPublish, 0), blk.Encode()...)
	sendRaw(t, conn, data)

	waitFor(t, func() bool { return blockproc.count() == 1 })
	waitFor(t, func() bool { elections.mu.Lock(); defer elections.mu.Unlock(); return len(elections.published) == 1 })
}

func TestHandleConfirmAckDecodesEmbeddedBlockAndForwardsVote(t *testing.T) {
	signer := newSigner(t)
	blk := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 3}}
	blk.SignWith(signer)

	vote := &blocks.Vote{Sequence: 1, Blocks: []blocks.BlockOrHash{blocks.NewBlockOrHashFromBlock(blk)}}
	vote.SignWith(signer)

	peers := &stubPeerSet{}
	blockproc := &stubBlockProc{}
	voteproc := &stubVoteProc{}
	elections := &stubElections{}
	ledger := newLedger(t)

	n, conn := newTestNetwork(t, peers, blockproc, voteproc, elections, ledger)
	n.Listen()
	t.Cleanup(n.Stop)

	data := append(header(wire.KindConfirmAck, 0), vote.Encode()...)
	sendRaw(t, conn, data)

	waitFor(t, func() bool { return blockproc.count() == 1 })
	waitFor(t, func() bool { return voteproc.count() == 1 })
}

func TestHandleConfirmAckDiscardsBadSignature(t *testing.T) {
	signer := newSigner(t)
	var h wire.Hash
	h[0] = 7
	vote := &blocks.Vote{Sequence: 1, Blocks: []blocks.BlockOrHash{blocks.NewBlockOrHashFromHash(h)}}
	vote.SignWith(signer)
	vote.Signature[0] ^= 0xFF

	peers := &stubPeerSet{}
	voteproc := &stubVoteProc{}
	ledger := newLedger(t)

	n, conn := newTestNetwork(t, peers, &stubBlockProc{}, voteproc, &stubElections{}, ledger)
	n.Listen()
	t.Cleanup(n.Stop)

	data := append(header(wire.KindConfirmAck, 0), vote.Encode()...)
	sendRaw(t, conn, data)

	time.Sleep(50 * time.Millisecond)
	if voteproc.count() != 0 {
		t.Fatalf("expected a bad-signature vote to be discarded, not forwarded")
	}
}

func TestHandleKeepaliveIssuesHandshakeWhenNeeded(t *testing.T) {
	peers := &stubPeerSet{needsShake: true}
	ledger := newLedger(t)

	n, conn := newTestNetwork(t, peers, &stubBlockProc{}, &stubVoteProc{}, &stubElections{}, ledger)
	n.Listen()
	t.Cleanup(n.Stop)

	replyConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv6loopback, Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer replyConn.Close()

	data := append(header(wire.KindKeepalive, 0), encodeKeepalive([8]wire.Endpoint{})...)
	if _, err := replyConn.WriteToUDP(data, conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	replyConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, wire.MaxDatagramSize)
	size, _, err := replyConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a node_id_handshake challenge back: %v", err)
	}
	h, _, err := wire.ParseHeader(buf[:size])
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Kind != wire.KindNodeIDHandshake {
		t.Fatalf("expected node_id_handshake, got %s", h.Kind)
	}
}

func TestUnknownKindIsCountedNotCrashed(t *testing.T) {
	peers := &stubPeerSet{}
	ledger := newLedger(t)
	n, conn := newTestNetwork(t, peers, &stubBlockProc{}, &stubVoteProc{}, &stubElections{}, ledger)
	n.Listen()
	t.Cleanup(n.Stop)

	sendRaw(t, conn, header(wire.KindBulkPull, 0))
	sendRaw(t, conn, header(wire.KindPublish, 0))

	time.Sleep(50 * time.Millisecond)
}

func TestSendRoundTripsThroughEncoding(t *testing.T) {
	peers := &stubPeerSet{}
	ledger := newLedger(t)
	n, _ := newTestNetwork(t, peers, &stubBlockProc{}, &stubVoteProc{}, &stubElections{}, ledger)

	dst := localUDPConn(t)
	ep, err := wire.NewEndpoint(netip.MustParseAddr("::1"), uint16(dst.LocalAddr().(*net.UDPAddr).Port))
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	n.Send(ep, wire.KindKeepalive, 0, []byte("payload"))

	dst.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, wire.MaxDatagramSize)
	size, _, err := dst.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	h, body, err := wire.ParseHeader(buf[:size])
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Kind != wire.KindKeepalive || string(body) != "payload" {
		t.Fatalf("round-tripped datagram mismatch: kind=%s body=%q", h.Kind, body)
	}
}

func TestHandleDatagramDropsReservedSender(t *testing.T) {
	peers := &stubPeerSet{}
	ledger := newLedger(t)
	n, _ := newTestNetwork(t, peers, &stubBlockProc{}, &stubVoteProc{}, &stubElections{}, ledger)

	reserved, err := wire.NewEndpoint(netip.MustParseAddr("192.0.2.1"), 7075)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	n.handleDatagram(reserved, header(wire.KindKeepalive, 0))

	peers.mu.Lock()
	defer peers.mu.Unlock()
	if len(peers.contacted) != 0 {
		t.Fatalf("expected a datagram from a reserved sender to be dropped before dispatch, got %d Contacted calls", len(peers.contacted))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
