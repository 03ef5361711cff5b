package node

import (
	"net/netip"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/config"
	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/ledger/ledgertest"
	"github.com/chratos-network/core/wire"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewTestConfig(t)
	cfg.BindAddr = "127.0.0.1:0"
	cfg.StatsAddr = ""
	cfg.PurgeInterval = time.Hour
	cfg.KeepaliveInterval = time.Hour
	return cfg
}

func newTestSigner(t *testing.T) wire.KeyPairSigner {
	t.Helper()
	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}
}

func newTestStore(t *testing.T) *ledgertest.Store {
	t.Helper()
	store, err := ledgertest.Open(t.TempDir() + "/node")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t)
	signer := newTestSigner(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Shutdown()

	if n.self.Port == 0 {
		t.Fatalf("expected node to bind a concrete UDP port, got %+v", n.self)
	}
	if n.net == nil || n.blockproc == nil || n.voteproc == nil || n.elections == nil || n.repcrawler == nil {
		t.Fatalf("expected every collaborator to be constructed")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t)
	signer := newTestSigner(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n.Shutdown()
	n.Shutdown()
}

func TestShutdownLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := newTestConfig(t)
	store := newTestStore(t)
	signer := newTestSigner(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.net.Listen()
	n.repcrawler.Start()
	n.Shutdown()
}

func TestRebroadcastWinnersReadsSuccessorFromOracle(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Shutdown()

	signer := newTestSigner(t)
	opening := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 10}}
	opening.SignWith(signer)
	if got := store.Process(nil, opening); got != ledger.Progress {
		t.Fatalf("Process: %v", got)
	}

	// With no signer configured, GenerateAndBroadcastVote falls back to a
	// raw rebroadcast of each root's successor rather than panicking.
	n.generateAndBroadcastVote([]wire.Hash{opening.Root()})
}

func TestCookiePurgeTickReclaimsAgedCookies(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.CookiePurgeCutoff = time.Millisecond
	store := newTestStore(t)
	signer := newTestSigner(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Shutdown()

	ep, err := wire.NewEndpoint(netip.MustParseAddr("127.0.0.1"), 9999)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	if _, ok := n.cookies.Assign(ep); !ok {
		t.Fatalf("expected Assign to succeed")
	}

	time.Sleep(5 * time.Millisecond)
	n.cookiePurgeTick()

	if n.cookies.Len() != 0 {
		t.Fatalf("expected cookiePurgeTick to reclaim the aged cookie, still have %d", n.cookies.Len())
	}
}

func TestOnRecentBlockStartsAnElection(t *testing.T) {
	cfg := newTestConfig(t)
	store := newTestStore(t)
	signer := newTestSigner(t)

	n, err := New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Shutdown()

	opening := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 10}}
	opening.SignWith(signer)

	n.onRecentBlock(opening)

	if !n.elections.Active(opening) {
		t.Fatalf("expected onRecentBlock to start an election for the new root")
	}
}
