package ledgertest

import (
	"sync"

	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

// Bootstrapper is a trivial ledger.BootstrapInitiator double: it records
// whether Bootstrap() was called and lets tests assert on it, with no
// actual pull-sync behavior.
type Bootstrapper struct {
	mu       sync.Mutex
	Calls    int
	attempt  ledger.PullInfo
	hasAttempt bool
	requeued []ledger.PullInfo
}

func (b *Bootstrapper) Bootstrap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls++
}

func (b *Bootstrapper) InProgress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasAttempt
}

func (b *Bootstrapper) CurrentAttempt() (ledger.PullInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt, b.hasAttempt
}

func (b *Bootstrapper) SetAttempt(p ledger.PullInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = p
	b.hasAttempt = true
}

func (b *Bootstrapper) RequeuePull(p ledger.PullInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requeued = append(b.requeued, p)
}

var _ ledger.BootstrapInitiator = (*Bootstrapper)(nil)

// Wallet is an in-memory ledger.WalletSource double seeded directly by
// tests, rather than loaded from a keystore file.
type Wallet struct {
	mu   sync.Mutex
	reps map[wire.Account]wire.Signer
}

func NewWallet() *Wallet {
	return &Wallet{reps: make(map[wire.Account]wire.Signer)}
}

func (w *Wallet) Add(signer wire.Signer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reps[signer.Account()] = signer
}

func (w *Wallet) ForEachRepresentative(_ ledger.Tx, fn func(pub wire.Account, priv wire.Signer)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for pub, signer := range w.reps {
		fn(pub, signer)
	}
}

var _ ledger.WalletSource = (*Wallet)(nil)
