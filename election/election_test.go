package election

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/common"
	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/ledger/ledgertest"
	"github.com/chratos-network/core/timer"
	"github.com/chratos-network/core/wire"
)

type fixedStake struct{ stake wire.Amount }

func (f fixedStake) OnlineStake() wire.Amount { return f.stake }

func newSigner(t *testing.T) wire.KeyPairSigner {
	t.Helper()
	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}
}

func newOpenBlock(account wire.Account) *blocks.Block {
	return &blocks.Block{
		Variant: blocks.VariantOpen,
		Account: account,
		Balance: wire.Amount{Lo: 100},
	}
}

func voteFor(t *testing.T, signer wire.KeyPairSigner, sequence uint64, hash wire.Hash) *blocks.Vote {
	t.Helper()
	v := &blocks.Vote{Sequence: sequence, Blocks: []blocks.BlockOrHash{blocks.NewBlockOrHashFromHash(hash)}}
	v.SignWith(signer)
	return v
}

func newTestSet(t *testing.T, cfg Config) (*ActiveElections, *ledgertest.Store) {
	t.Helper()
	store, err := ledgertest.Open(filepath.Join(t.TempDir(), "election"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alarm := timer.New()
	t.Cleanup(alarm.Stop)

	a := New(store, fixedStake{stake: wire.Amount{Lo: 1000}}, Hooks{}, cfg, alarm, nil, common.NewTestLogger(t))
	t.Cleanup(a.Stop)
	return a, store
}

func TestStartRejectsDuplicateRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveNetwork = false
	a, _ := newTestSet(t, cfg)

	signer := newSigner(t)
	b := newOpenBlock(signer.Account())

	if err := a.Start(b, nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := a.Start(b, nil); err == nil {
		t.Fatalf("expected duplicate-root error on second Start")
	}
	if a.Len() != 1 {
		t.Fatalf("Len = %d, want 1", a.Len())
	}
}

func TestVoteReachesQuorumAndConfirms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveNetwork = false
	cfg.OnlineWeightQuorumPercent = 10
	cfg.OnlineWeightMinimum = wire.Amount{Lo: 1}

	a, store := newTestSet(t, cfg)

	signer := newSigner(t)
	b := newOpenBlock(signer.Account())

	var mu sync.Mutex
	var confirmedBlock *blocks.Block
	onConfirm := func(blk *blocks.Block) {
		mu.Lock()
		confirmedBlock = blk
		mu.Unlock()
	}

	if err := a.Start(b, onConfirm); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rep := newSigner(t)
	store.SetWeight(rep.Account(), wire.Amount{Lo: 900})

	v := voteFor(t, rep, 1, b.Hash())
	touched, replay := a.Vote(v)
	if !touched {
		t.Fatalf("expected vote to touch the election")
	}
	if replay {
		t.Fatalf("first vote from a fresh rep should not be a replay")
	}

	mu.Lock()
	defer mu.Unlock()
	if confirmedBlock == nil {
		t.Fatalf("expected election to confirm once quorum weight was cast")
	}
	if confirmedBlock.Hash() != b.Hash() {
		t.Fatalf("confirmed wrong block")
	}
}

func TestVoteReplayOnNonAdvancingSequence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LiveNetwork = false
	a, store := newTestSet(t, cfg)

	signer := newSigner(t)
	b := newOpenBlock(signer.Account())
	if err := a.Start(b, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rep := newSigner(t)
	store.SetWeight(rep.Account(), wire.Amount{Lo: 10})

	v1 := voteFor(t, rep, 5, b.Hash())
	if touched, replay := a.Vote(v1); !touched || replay {
		t.Fatalf("first vote: touched=%v replay=%v, want touched=true replay=false", touched, replay)
	}

	v2 := voteFor(t, rep, 5, b.Hash())
	if touched, replay := a.Vote(v2); !touched || !replay {
		t.Fatalf("repeated (sequence,hash) vote: touched=%v replay=%v, want touched=true replay=true", touched, replay)
	}
}

func TestVoteIgnoresUnknownRoot(t *testing.T) {
	cfg := DefaultConfig()
	a, _ := newTestSet(t, cfg)

	rep := newSigner(t)
	var stray wire.Hash
	stray[0] = 0xFF

	v := voteFor(t, rep, 1, stray)
	touched, replay := a.Vote(v)
	if touched || replay {
		t.Fatalf("vote touching no election: touched=%v replay=%v, want both false", touched, replay)
	}
}

func TestPublishRejectsPastCapacityWithLowTally(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlternatives = 1
	cfg.LiveNetwork = false
	a, _ := newTestSet(t, cfg)

	signer := newSigner(t)
	b := newOpenBlock(signer.Account())
	if err := a.Start(b, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	alt := newOpenBlock(signer.Account())
	alt.Balance = wire.Amount{Lo: 1}
	if err := a.Publish(alt); err == nil {
		t.Fatalf("expected Publish to reject an 11th-equivalent alternative with no tally")
	}
}

func TestAnnouncementLoopDrivesTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnnounceInterval = 5 * time.Millisecond
	cfg.AnnouncementMin = 1
	cfg.LiveNetwork = false

	var broadcastCount int
	var mu sync.Mutex

	hooks := Hooks{
		Broadcast: func(b *blocks.Block) {
			mu.Lock()
			broadcastCount++
			mu.Unlock()
		},
	}

	store, err := ledgertest.Open(filepath.Join(t.TempDir(), "election-announce"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alarm := timer.New()
	t.Cleanup(alarm.Stop)

	a := New(store, fixedStake{stake: wire.Amount{Lo: 1000}}, hooks, cfg, alarm, nil, common.NewTestLogger(t))
	t.Cleanup(a.Stop)

	signer := newSigner(t)
	b := newOpenBlock(signer.Account())
	if err := a.Start(b, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		mu.Lock()
		count := broadcastCount
		mu.Unlock()
		if count > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("announcement loop never rebroadcast the winner")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
