// Package blocks implements the core's polymorphic block type, re-expressed
// as a tagged sum with per-variant dispatch rather than a class hierarchy,
// its content addressing, and the Vote type. The ledger validation rules
// that actually process a Block live elsewhere -- this package only knows
// how to identify, hash, and sign/verify blocks, not whether they are
// valid against the ledger.
package blocks

import (
	"encoding/binary"

	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/wire"
)

// Variant discriminates the four block kinds.
type Variant uint8

const (
	VariantState Variant = iota
	VariantDividend
	VariantClaim
	VariantOpen
)

// String names a Variant for logging.
func (v Variant) String() string {
	switch v {
	case VariantState:
		return "state"
	case VariantDividend:
		return "dividend"
	case VariantClaim:
		return "claim"
	case VariantOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Block is the tagged sum over all block variants. Every operation on a
// Block (Hash, Root, dispatching per variant) is defined here; the ledger
// oracle is the only collaborator allowed to branch on full validation
// behavior.
type Block struct {
	Variant Variant

	Account        wire.Account
	Previous       wire.Hash // zero for an opening block
	Representative wire.Account
	Balance        wire.Amount
	Link           wire.Hash // send destination / receive source / claim target
	Dividend       wire.Hash // zero if this block does not reference a dividend

	Work      wire.Work
	Signature wire.Signature

	hash    wire.Hash
	hasHash bool
}

// Root is the block identity an election is keyed on: Previous if the
// block has one, else Account.
func (b *Block) Root() wire.Hash {
	if !b.Previous.IsZero() {
		return b.Previous
	}
	// An opening block's root is its account, reinterpreted as a Hash so
	// elections can key uniformly on a 32-byte root regardless of variant.
	return wire.Hash(b.Account)
}

// rootBytes returns the canonical bytes a work nonce is checked against:
// the block's root.
func (b *Block) rootBytes() []byte {
	root := b.Root()
	return root[:]
}

// canonicalBytes returns the canonical encoding hashed to produce the
// block's content address: blake2b over the fixed-layout field encoding.
func (b *Block) canonicalBytes() []byte {
	buf := make([]byte, 0, 1+32+32+32+16+32+32+8)
	buf = append(buf, byte(b.Variant))
	buf = append(buf, b.Account[:]...)
	buf = append(buf, b.Previous[:]...)
	buf = append(buf, b.Representative[:]...)
	balance := make([]byte, 16)
	binary.BigEndian.PutUint64(balance[0:8], b.Balance.Hi)
	binary.BigEndian.PutUint64(balance[8:16], b.Balance.Lo)
	buf = append(buf, balance...)
	buf = append(buf, b.Link[:]...)
	buf = append(buf, b.Dividend[:]...)
	return buf
}

// Hash returns (and memoizes) the block's content hash.
func (b *Block) Hash() wire.Hash {
	if !b.hasHash {
		b.hash = wire.Hash(cryptoutil.Hash256(b.canonicalBytes()))
		b.hasHash = true
	}
	return b.hash
}

// SignWith signs the block's hash with signer, setting b.Signature.
func (b *Block) SignWith(signer wire.Signer) {
	h := b.Hash()
	b.Signature = signer.Sign(h[:])
}

// VerifySignature verifies b.Signature against pub over the block hash.
func (b *Block) VerifySignature(pub wire.Account) bool {
	h := b.Hash()
	return cryptoutil.Verify(cryptoutil.PublicKey(pub[:]), h[:], b.Signature[:])
}

// VerifyWork reports whether Work is a valid proof-of-work nonce over the
// block's root, given a required leading-zero difficulty. Generating a
// nonce is the wallet's job; this is only the acceptance check.
func (b *Block) VerifyWork(difficulty uint8) bool {
	root := b.rootBytes()
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], uint64(b.Work))
	digest := cryptoutil.Hash256(nonce[:], root)
	return leadingZeroBits(digest[:]) >= difficulty
}

func leadingZeroBits(b []byte) uint8 {
	var n uint8
	for _, by := range b {
		if by == 0 {
			n += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if by&mask != 0 {
				return n
			}
			n++
		}
	}
	return n
}
