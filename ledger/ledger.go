// Package ledger declares the external collaborator interfaces this core
// consumes but does not implement: the ledger validation oracle, the block
// store, the bootstrap initiator, and the wallet source. The
// core's components are written entirely against these interfaces; see
// ledger/ledgertest for the badger-backed reference implementation used
// by this module's tests and by the cmd/chratos-core binary.
package ledger

import (
	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/wire"
)

// ProcessResult enumerates the ledger oracle's process() outcomes.
// BlockProcessor's dispatch table switches on this.
type ProcessResult uint8

const (
	Progress ProcessResult = iota
	Old
	GapPrevious
	GapSource
	BadSignature
	NegativeSpend
	Unreceivable
	Fork
	OpenedBurnAccount
	BalanceMismatch
	RepresentativeMismatch
	BlockPosition
	OutstandingPendings
	DividendTooSmall
	IncorrectDividend
	DividendFork
	InvalidDividendAccount
)

// String names a ProcessResult for logging.
func (r ProcessResult) String() string {
	switch r {
	case Progress:
		return "progress"
	case Old:
		return "old"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Unreceivable:
		return "unreceivable"
	case Fork:
		return "fork"
	case OpenedBurnAccount:
		return "opened_burn_account"
	case BalanceMismatch:
		return "balance_mismatch"
	case RepresentativeMismatch:
		return "representative_mismatch"
	case BlockPosition:
		return "block_position"
	case OutstandingPendings:
		return "outstanding_pendings"
	case DividendTooSmall:
		return "dividend_too_small"
	case IncorrectDividend:
		return "incorrect_dividend"
	case DividendFork:
		return "dividend_fork"
	case InvalidDividendAccount:
		return "invalid_dividend_account"
	default:
		return "unknown"
	}
}

// Tx is an opaque ledger transaction handle. A single writer transaction
// is held by BlockProcessor at a time; readers take independent snapshot
// transactions.
type Tx interface {
	// Discard releases the transaction. Safe to call after Commit.
	Discard()
}

// Oracle is the ledger validation collaborator. It alone knows
// the ledger's validation rules; this core only dispatches on its
// results.
type Oracle interface {
	Begin(writable bool) (Tx, error)
	Commit(tx Tx) error

	Process(tx Tx, block *blocks.Block) ProcessResult
	Weight(tx Tx, rep wire.Account) wire.Amount
	Successor(tx Tx, root wire.Hash) (*blocks.Block, bool)
	BlockSource(tx Tx, block *blocks.Block) wire.Hash
	Rollback(tx Tx, hash wire.Hash) error
	CouldFit(tx Tx, block *blocks.Block) bool
	ForkedBlock(tx Tx, block *blocks.Block) (*blocks.Block, bool)
	Amount(tx Tx, hash wire.Hash) (wire.Amount, bool)
	Account(tx Tx, hash wire.Hash) (wire.Account, bool)
	IsSend(tx Tx, stateBlock *blocks.Block) bool
}

// Store is the transactional block/account KV collaborator.
type Store interface {
	BlockGet(tx Tx, hash wire.Hash) (*blocks.Block, bool)
	BlockExists(tx Tx, hash wire.Hash) bool
	RootExists(tx Tx, root wire.Hash) bool

	UncheckedPut(tx Tx, dependency wire.Hash, block *blocks.Block, originationTime int64) error
	UncheckedGet(tx Tx, dependency wire.Hash) []UncheckedEntry
	UncheckedDel(tx Tx, dependency wire.Hash, hash wire.Hash) error

	VoteMax(tx Tx, account wire.Account) (*blocks.Vote, bool)
	VoteGenerate(tx Tx, block *blocks.Block, signer wire.Signer) (*blocks.Vote, error)

	LatestBegin(tx Tx) Iterator
	FrontierGet(tx Tx, account wire.Account) (wire.Hash, bool)
	AccountGet(tx Tx, account wire.Account) (AccountInfo, bool)
	AccountExists(tx Tx, account wire.Account) bool
}

// UncheckedEntry is a block queued against a missing dependency, along
// with the origination time it arrived with.
type UncheckedEntry struct {
	Block           *blocks.Block
	OriginationTime int64
}

// AccountInfo is the minimal per-account frontier record the Store
// exposes.
type AccountInfo struct {
	Head    wire.Hash
	Balance wire.Amount
	Rep     wire.Account
}

// Iterator walks a Store's latest-frontier index.
type Iterator interface {
	Next() bool
	Account() wire.Account
	Info() AccountInfo
	Close()
}

// BootstrapInitiator is the external bootstrap/pull-sync collaborator,
// driven by GapCache when accumulated vote weight crosses the bootstrap
// threshold.
type BootstrapInitiator interface {
	Bootstrap()
	InProgress() bool
	CurrentAttempt() (PullInfo, bool)
	RequeuePull(p PullInfo)
}

// PullInfo describes one in-flight bootstrap pull range; opaque to this
// core beyond being requeued.
type PullInfo struct {
	Account wire.Account
	Head    wire.Hash
}

// WalletSource is the external wallet/keystore collaborator.
type WalletSource interface {
	ForEachRepresentative(tx Tx, fn func(pub wire.Account, priv wire.Signer))
}
