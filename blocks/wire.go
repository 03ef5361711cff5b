package blocks

import (
	"encoding/binary"
	"fmt"

	"github.com/chratos-network/core/wire"
)

// wireSize is the fixed on-wire length of one encoded block: the
// canonical hashed fields, plus Work and Signature which are not part of
// the content hash.
const wireSize = 1 + 32 + 32 + 32 + 16 + 32 + 32 + 8 + 64

// Encode serializes b to its fixed-width wire representation.
func (b *Block) Encode() []byte {
	buf := make([]byte, 0, wireSize)
	buf = append(buf, b.canonicalBytes()...)
	var work [8]byte
	binary.BigEndian.PutUint64(work[:], uint64(b.Work))
	buf = append(buf, work[:]...)
	buf = append(buf, b.Signature[:]...)
	return buf
}

// DecodeBlock parses a block from its fixed-width wire representation.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < wireSize {
		return nil, fmt.Errorf("blocks: short block encoding: %d bytes, want %d", len(data), wireSize)
	}
	b := &Block{}
	off := 0
	b.Variant = Variant(data[off])
	off++
	copy(b.Account[:], data[off:off+32])
	off += 32
	copy(b.Previous[:], data[off:off+32])
	off += 32
	copy(b.Representative[:], data[off:off+32])
	off += 32
	b.Balance.Hi = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	b.Balance.Lo = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	copy(b.Link[:], data[off:off+32])
	off += 32
	copy(b.Dividend[:], data[off:off+32])
	off += 32
	b.Work = wire.Work(binary.BigEndian.Uint64(data[off : off+8]))
	off += 8
	copy(b.Signature[:], data[off:off+64])
	return b, nil
}

// blockOrHashTag discriminates one vote element's wire form: a bare hash
// (cheap, the common case once peers already have the block) or a full
// block (confirm_ack's fast path, letting a rep-crawl reply or a small
// bundled vote deliver the block itself instead of a dangling hash).
type blockOrHashTag byte

const (
	tagHash  blockOrHashTag = 0
	tagBlock blockOrHashTag = 1
)

// Encode serializes v: account(32) || sequence(8) || signature(64) ||
// count(1) || count * (tag(1) || 32-byte hash or wireSize-byte block).
func (v *Vote) Encode() []byte {
	buf := make([]byte, 0, 32+8+64+1+len(v.Blocks)*(1+wireSize))
	buf = append(buf, v.Account[:]...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], v.Sequence)
	buf = append(buf, seq[:]...)
	buf = append(buf, v.Signature[:]...)
	buf = append(buf, byte(len(v.Blocks)))
	for _, e := range v.Blocks {
		if blk, ok := e.Block(); ok {
			buf = append(buf, byte(tagBlock))
			buf = append(buf, blk.Encode()...)
		} else {
			h := e.Hash()
			buf = append(buf, byte(tagHash))
			buf = append(buf, h[:]...)
		}
	}
	return buf
}

// DecodeVote parses a vote from its wire representation, resolving each
// element to either a bare hash or a fully decoded block per its tag.
func DecodeVote(data []byte) (*Vote, error) {
	const fixed = 32 + 8 + 64 + 1
	if len(data) < fixed {
		return nil, fmt.Errorf("blocks: short vote encoding: %d bytes, want at least %d", len(data), fixed)
	}
	v := &Vote{}
	off := 0
	copy(v.Account[:], data[off:off+32])
	off += 32
	v.Sequence = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	copy(v.Signature[:], data[off:off+64])
	off += 64
	count := int(data[off])
	off++
	if count == 0 || count > MaxVoteBlocks {
		return nil, fmt.Errorf("blocks: vote carries %d blocks, want 1..%d", count, MaxVoteBlocks)
	}

	v.Blocks = make([]BlockOrHash, count)
	for i := 0; i < count; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("blocks: short vote encoding: missing element tag")
		}
		tag := blockOrHashTag(data[off])
		off++
		switch tag {
		case tagHash:
			if len(data) < off+32 {
				return nil, fmt.Errorf("blocks: short vote encoding: missing block hash")
			}
			var h wire.Hash
			copy(h[:], data[off:off+32])
			off += 32
			v.Blocks[i] = NewBlockOrHashFromHash(h)
		case tagBlock:
			if len(data) < off+wireSize {
				return nil, fmt.Errorf("blocks: short vote encoding: missing block body")
			}
			blk, err := DecodeBlock(data[off : off+wireSize])
			if err != nil {
				return nil, err
			}
			off += wireSize
			v.Blocks[i] = NewBlockOrHashFromBlock(blk)
		default:
			return nil, fmt.Errorf("blocks: unknown vote element tag %d", tag)
		}
	}
	return v, nil
}
