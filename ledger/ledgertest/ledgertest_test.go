package ledgertest

import (
	"path/filepath"
	"testing"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledgertest"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSigner(t *testing.T) wire.KeyPairSigner {
	t.Helper()
	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}
}

func TestProcessOpeningThenContinuation(t *testing.T) {
	s := newStore(t)
	signer := newSigner(t)

	opening := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 10}}
	opening.SignWith(signer)
	if got := s.Process(nil, opening); got != ledger.Progress {
		t.Fatalf("expected Progress, got %s", got)
	}

	reopen := &blocks.Block{Variant: blocks.VariantOpen, Account: signer.Account(), Balance: wire.Amount{Lo: 5}}
	reopen.SignWith(signer)
	if got := s.Process(nil, reopen); got != ledger.Fork {
		t.Fatalf("expected Fork for duplicate opening, got %s", got)
	}

	cont := &blocks.Block{Variant: blocks.VariantState, Account: signer.Account(), Previous: opening.Hash(), Balance: wire.Amount{Lo: 20}}
	cont.SignWith(signer)
	if got := s.Process(nil, cont); got != ledger.Progress {
		t.Fatalf("expected Progress for continuation, got %s", got)
	}

	if got := s.Process(nil, cont); got != ledger.Old {
		t.Fatalf("expected Old on replay, got %s", got)
	}

	missingPrev := &blocks.Block{Variant: blocks.VariantState, Account: signer.Account(), Previous: wire.Hash{9, 9}}
	missingPrev.SignWith(signer)
	if got := s.Process(nil, missingPrev); got != ledger.GapPrevious {
		t.Fatalf("expected GapPrevious, got %s", got)
	}

	info, ok := s.AccountGet(nil, signer.Account())
	if !ok || info.Head != cont.Hash() {
		t.Fatalf("expected frontier to advance to continuation block")
	}
}

func TestUncheckedQueueRoundTrip(t *testing.T) {
	s := newStore(t)
	signer := newSigner(t)
	dep := wire.Hash{1, 2, 3}
	b := &blocks.Block{Variant: blocks.VariantState, Account: signer.Account(), Previous: dep}
	b.SignWith(signer)

	if err := s.UncheckedPut(nil, dep, b, 0); err != nil {
		t.Fatalf("UncheckedPut: %v", err)
	}
	entries := s.UncheckedGet(nil, dep)
	if len(entries) != 1 || entries[0].Block.Hash() != b.Hash() {
		t.Fatalf("expected one unchecked entry, got %d", len(entries))
	}

	if err := s.UncheckedDel(nil, dep, b.Hash()); err != nil {
		t.Fatalf("UncheckedDel: %v", err)
	}
	if got := s.UncheckedGet(nil, dep); len(got) != 0 {
		t.Fatalf("expected unchecked queue drained, got %d", len(got))
	}
}

func TestVoteGenerateBumpsSequence(t *testing.T) {
	s := newStore(t)
	signer := newSigner(t)
	b := &blocks.Block{Variant: blocks.VariantState, Account: signer.Account()}

	v1, err := s.VoteGenerate(nil, b, signer)
	if err != nil {
		t.Fatalf("VoteGenerate: %v", err)
	}
	v2, err := s.VoteGenerate(nil, b, signer)
	if err != nil {
		t.Fatalf("VoteGenerate: %v", err)
	}
	if v2.Sequence != v1.Sequence+1 {
		t.Fatalf("expected sequence to bump, got %d then %d", v1.Sequence, v2.Sequence)
	}

	max, ok := s.VoteMax(nil, signer.Account())
	if !ok || max.Sequence != v2.Sequence {
		t.Fatalf("expected VoteMax to report latest sequence")
	}
}

func TestLatestBeginIteratesFrontiers(t *testing.T) {
	s := newStore(t)
	a, b := newSigner(t), newSigner(t)

	oa := &blocks.Block{Variant: blocks.VariantOpen, Account: a.Account(), Balance: wire.Amount{Lo: 1}}
	oa.SignWith(a)
	ob := &blocks.Block{Variant: blocks.VariantOpen, Account: b.Account(), Balance: wire.Amount{Lo: 2}}
	ob.SignWith(b)

	if got := s.Process(nil, oa); got != ledger.Progress {
		t.Fatalf("expected Progress, got %s", got)
	}
	if got := s.Process(nil, ob); got != ledger.Progress {
		t.Fatalf("expected Progress, got %s", got)
	}

	it := s.LatestBegin(nil)
	defer it.Close()
	seen := map[wire.Account]bool{}
	for it.Next() {
		seen[it.Account()] = true
	}
	if !seen[a.Account()] || !seen[b.Account()] {
		t.Fatalf("expected both accounts in frontier iteration")
	}
}

func TestWalletForEachRepresentative(t *testing.T) {
	w := NewWallet()
	a, b := newSigner(t), newSigner(t)
	w.Add(a)
	w.Add(b)

	seen := map[wire.Account]bool{}
	w.ForEachRepresentative(nil, func(pub wire.Account, priv wire.Signer) {
		seen[pub] = true
	})
	if !seen[a.Account()] || !seen[b.Account()] {
		t.Fatalf("expected both representatives visited")
	}
}

func TestBootstrapperRecordsCalls(t *testing.T) {
	b := &Bootstrapper{}
	b.Bootstrap()
	b.Bootstrap()
	if b.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", b.Calls)
	}
}
