// Package ledgertest provides an in-process ledger.Oracle/ledger.Store
// double backed by github.com/dgraph-io/badger, used by this module's
// package tests and by the cmd/chratos-core binary. It implements just enough account/frontier
// bookkeeping to drive BlockProcessor, VoteProcessor, and election tests
// without a real ledger validation engine.
package ledgertest

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

const (
	blockPrefix    = "block!"
	frontierPrefix = "frontier!"
)

// Store is a badger-backed ledger.Oracle + ledger.Store double. Process
// applies a simplified, permissive rule set: a block whose hash is
// already stored is Old; a block with a non-zero Previous that is not
// stored is GapPrevious; an opening block (zero Previous) for an account
// that already has a frontier is Fork; anything else is accepted as
// Progress, so BlockProcessor's dispatch table can be exercised.
type Store struct {
	mu        sync.Mutex
	db        *badger.DB
	path      string
	unchecked map[wire.Hash][]ledger.UncheckedEntry
	votes     map[wire.Account]*blocks.Vote
	weights   map[wire.Account]wire.Amount
}

// Open creates a Store backed by a fresh badger database under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledgertest: open badger at %s: %w", dir, err)
	}
	return &Store{
		db:        db,
		path:      dir,
		unchecked: make(map[wire.Hash][]ledger.UncheckedEntry),
		votes:     make(map[wire.Account]*blocks.Vote),
		weights:   make(map[wire.Account]wire.Amount),
	}, nil
}

// Close releases the underlying database and removes its directory.
func (s *Store) Close() error {
	err := s.db.Close()
	os.RemoveAll(s.path)
	return err
}

// SetWeight seeds a representative's voting weight for tests.
func (s *Store) SetWeight(rep wire.Account, amount wire.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[rep] = amount
}

type tx struct {
	writable bool
}

func (t *tx) Discard() {}

// Begin starts a transaction. writable transactions are serialized by
// s.mu for the lifetime of the call in this test double; there is no
// BlockProcessor-style held-open transaction across calls.
func (s *Store) Begin(writable bool) (ledger.Tx, error) {
	return &tx{writable: writable}, nil
}

// Commit is a no-op: every mutating method commits its own badger
// transaction immediately.
func (s *Store) Commit(ledger.Tx) error { return nil }

func blockKey(h wire.Hash) []byte    { return append([]byte(blockPrefix), h[:]...) }
func frontierKey(a wire.Account) []byte { return append([]byte(frontierPrefix), a[:]...) }

// Process applies the simplified acceptance rule described on Store.
func (s *Store) Process(_ ledger.Tx, b *blocks.Block) ledger.ProcessResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blockExistsLocked(b.Hash()) {
		return ledger.Old
	}

	if !b.Previous.IsZero() {
		if !s.blockExistsLocked(b.Previous) {
			return ledger.GapPrevious
		}
	} else if s.accountExistsLocked(b.Account) {
		return ledger.Fork
	}

	if err := s.putBlockLocked(b); err != nil {
		return ledger.Fork
	}
	s.setFrontierLocked(b.Account, ledger.AccountInfo{
		Head:    b.Hash(),
		Balance: b.Balance,
		Rep:     b.Representative,
	})
	return ledger.Progress
}

func (s *Store) Weight(_ ledger.Tx, rep wire.Account) wire.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights[rep]
}

func (s *Store) Successor(tx ledger.Tx, root wire.Hash) (*blocks.Block, bool) {
	return nil, false
}

func (s *Store) BlockSource(_ ledger.Tx, b *blocks.Block) wire.Hash {
	return b.Link
}

func (s *Store) Rollback(_ ledger.Tx, hash wire.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blockKey(hash))
	})
}

func (s *Store) CouldFit(_ ledger.Tx, b *blocks.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Previous.IsZero() {
		return true
	}
	return s.blockExistsLocked(b.Previous)
}

func (s *Store) ForkedBlock(_ ledger.Tx, b *blocks.Block) (*blocks.Block, bool) {
	return nil, false
}

func (s *Store) Amount(_ ledger.Tx, hash wire.Hash) (wire.Amount, bool) {
	blk, ok := s.BlockGet(nil, hash)
	if !ok {
		return wire.Amount{}, false
	}
	return blk.Balance, true
}

func (s *Store) Account(_ ledger.Tx, hash wire.Hash) (wire.Account, bool) {
	blk, ok := s.BlockGet(nil, hash)
	if !ok {
		return wire.Account{}, false
	}
	return blk.Account, true
}

func (s *Store) IsSend(_ ledger.Tx, stateBlock *blocks.Block) bool {
	prev, ok := s.BlockGet(nil, stateBlock.Previous)
	if !ok {
		return false
	}
	return stateBlock.Balance.Cmp(prev.Balance) < 0
}

func (s *Store) blockExistsLocked(h wire.Hash) bool {
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(h))
		found = err == nil
		return nil
	})
	return found
}

func (s *Store) accountExistsLocked(a wire.Account) bool {
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(frontierKey(a))
		found = err == nil
		return nil
	})
	return found
}

func (s *Store) putBlockLocked(b *blocks.Block) error {
	enc, err := encodeBlock(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(b.Hash()), enc)
	})
}

func (s *Store) setFrontierLocked(a wire.Account, info ledger.AccountInfo) {
	enc := encodeAccountInfo(info)
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(frontierKey(a), enc)
	})
}

// BlockGet satisfies ledger.Store.
func (s *Store) BlockGet(_ ledger.Tx, hash wire.Hash) (*blocks.Block, bool) {
	var enc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			enc = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	b, err := decodeBlock(enc)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (s *Store) BlockExists(_ ledger.Tx, hash wire.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockExistsLocked(hash)
}

func (s *Store) RootExists(_ ledger.Tx, root wire.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockExistsLocked(root) || s.accountExistsLocked(wire.Account(root))
}

func (s *Store) UncheckedPut(_ ledger.Tx, dependency wire.Hash, b *blocks.Block, originationTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unchecked[dependency] = append(s.unchecked[dependency], ledger.UncheckedEntry{Block: b, OriginationTime: originationTime})
	return nil
}

func (s *Store) UncheckedGet(_ ledger.Tx, dependency wire.Hash) []ledger.UncheckedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.UncheckedEntry(nil), s.unchecked[dependency]...)
}

func (s *Store) UncheckedDel(_ ledger.Tx, dependency wire.Hash, hash wire.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.unchecked[dependency]
	for i, e := range entries {
		if e.Block.Hash() == hash {
			s.unchecked[dependency] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) VoteMax(_ ledger.Tx, account wire.Account) (*blocks.Vote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[account]
	return v, ok
}

// VoteGenerate signs and records a representative's vote for b, bumping
// its stored sequence number by one.
func (s *Store) VoteGenerate(_ ledger.Tx, b *blocks.Block, signer wire.Signer) (*blocks.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := signer.Account()
	seq := uint64(1)
	if prev, ok := s.votes[account]; ok {
		seq = prev.Sequence + 1
	}
	v := &blocks.Vote{Sequence: seq, Blocks: []blocks.BlockOrHash{blocks.NewBlockOrHashFromBlock(b)}}
	v.SignWith(signer)
	s.votes[account] = v
	return v, nil
}

func (s *Store) FrontierGet(_ ledger.Tx, account wire.Account) (wire.Hash, bool) {
	info, ok := s.AccountGet(nil, account)
	return info.Head, ok
}

func (s *Store) AccountGet(_ ledger.Tx, account wire.Account) (ledger.AccountInfo, bool) {
	var enc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(frontierKey(account))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			enc = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return ledger.AccountInfo{}, false
	}
	return decodeAccountInfo(enc), true
}

func (s *Store) AccountExists(_ ledger.Tx, account wire.Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountExistsLocked(account)
}

func (s *Store) LatestBegin(_ ledger.Tx) ledger.Iterator {
	it := &iterator{}
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		dbit := txn.NewIterator(opts)
		defer dbit.Close()
		prefix := []byte(frontierPrefix)
		for dbit.Seek(prefix); dbit.ValidForPrefix(prefix); dbit.Next() {
			item := dbit.Item()
			var acct wire.Account
			copy(acct[:], item.Key()[len(prefix):])
			var enc []byte
			_ = item.Value(func(v []byte) error {
				enc = append([]byte(nil), v...)
				return nil
			})
			it.entries = append(it.entries, frontierEntry{account: acct, info: decodeAccountInfo(enc)})
		}
		return nil
	})
	return it
}

type frontierEntry struct {
	account wire.Account
	info    ledger.AccountInfo
}

type iterator struct {
	entries []frontierEntry
	pos     int
}

func (it *iterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

func (it *iterator) Account() wire.Account      { return it.entries[it.pos-1].account }
func (it *iterator) Info() ledger.AccountInfo   { return it.entries[it.pos-1].info }
func (it *iterator) Close()                     {}

var (
	_ ledger.Oracle = (*Store)(nil)
	_ ledger.Store  = (*Store)(nil)
)
