package blocks

import (
	"encoding/binary"

	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/wire"
)

// MaxVoteBlocks is the maximum number of block/hash entries a single Vote
// may carry.
const MaxVoteBlocks = 12

// BlockOrHash is a sum type for a vote element: either a full
// Block or a bare Hash. Downstream code dispatches on which is present
// rather than testing for an untyped nil.
type BlockOrHash struct {
	block *Block
	hash  wire.Hash
}

// NewBlockOrHashFromBlock wraps a full block.
func NewBlockOrHashFromBlock(b *Block) BlockOrHash { return BlockOrHash{block: b} }

// NewBlockOrHashFromHash wraps a bare hash.
func NewBlockOrHashFromHash(h wire.Hash) BlockOrHash { return BlockOrHash{hash: h} }

// Block returns the full block and true if this element carries one.
func (e BlockOrHash) Block() (*Block, bool) { return e.block, e.block != nil }

// Hash returns the element's hash, whether it was constructed from a full
// block or a bare hash.
func (e BlockOrHash) Hash() wire.Hash {
	if e.block != nil {
		return e.block.Hash()
	}
	return e.hash
}

// Vote is a representative's attestation for up to MaxVoteBlocks blocks.
// Sequence is monotone per representative account.
type Vote struct {
	Account   wire.Account
	Sequence  uint64
	Blocks    []BlockOrHash
	Signature wire.Signature
}

// signingPayload is sequence || each block hash; SignWith and Validate
// sign and verify its blake2b-256 digest.
func (v *Vote) signingPayload() []byte {
	buf := make([]byte, 8, 8+len(v.Blocks)*32)
	binary.BigEndian.PutUint64(buf, v.Sequence)
	for _, e := range v.Blocks {
		h := e.Hash()
		buf = append(buf, h[:]...)
	}
	return buf
}

// SignWith signs the vote with signer, setting v.Account and v.Signature.
func (v *Vote) SignWith(signer wire.Signer) {
	v.Account = signer.Account()
	digest := cryptoutil.Hash256(v.signingPayload())
	v.Signature = signer.Sign(digest[:])
}

// Validate verifies the vote's ed25519 signature over
// blake2b(sequence || each block hash).
func (v *Vote) Validate() bool {
	if len(v.Blocks) == 0 || len(v.Blocks) > MaxVoteBlocks {
		return false
	}
	digest := cryptoutil.Hash256(v.signingPayload())
	return cryptoutil.Verify(cryptoutil.PublicKey(v.Account[:]), digest[:], v.Signature[:])
}

// Less gives (sequence, hash) a total order for the lexicographic vote
// admission rule: a new (sequence, hash) pair is admitted only when it
// is lexicographically greater than the last one seen.
func Less(seqA uint64, hashA wire.Hash, seqB uint64, hashB wire.Hash) bool {
	if seqA != seqB {
		return seqA < seqB
	}
	return hashA.Less(hashB)
}
