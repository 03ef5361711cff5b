package ledgertest

import (
	"encoding/binary"
	"fmt"

	"github.com/chratos-network/core/blocks"
	"github.com/chratos-network/core/ledger"
	"github.com/chratos-network/core/wire"
)

// encodeBlock/decodeBlock use a flat fixed-width layout rather than a
// general-purpose serialization library: the test double stores exactly
// one struct shape and never needs schema evolution, so reflection-based
// encoding would add a dependency for no behavior this package exercises.
const blockEncSize = 1 + 32 + 32 + 32 + 16 + 32 + 32 + 8 + 64

func encodeBlock(b *blocks.Block) ([]byte, error) {
	buf := make([]byte, blockEncSize)
	off := 0
	buf[off] = byte(b.Variant)
	off++
	off += copy(buf[off:], b.Account[:])
	off += copy(buf[off:], b.Previous[:])
	off += copy(buf[off:], b.Representative[:])
	binary.BigEndian.PutUint64(buf[off:], b.Balance.Hi)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], b.Balance.Lo)
	off += 8
	off += copy(buf[off:], b.Link[:])
	off += copy(buf[off:], b.Dividend[:])
	binary.BigEndian.PutUint64(buf[off:], uint64(b.Work))
	off += 8
	copy(buf[off:], b.Signature[:])
	return buf, nil
}

func decodeBlock(enc []byte) (*blocks.Block, error) {
	if len(enc) != blockEncSize {
		return nil, fmt.Errorf("ledgertest: bad block encoding length %d", len(enc))
	}
	b := &blocks.Block{Variant: blocks.Variant(enc[0])}
	off := 1
	copy(b.Account[:], enc[off:off+32])
	off += 32
	copy(b.Previous[:], enc[off:off+32])
	off += 32
	copy(b.Representative[:], enc[off:off+32])
	off += 32
	b.Balance.Hi = binary.BigEndian.Uint64(enc[off:])
	off += 8
	b.Balance.Lo = binary.BigEndian.Uint64(enc[off:])
	off += 8
	copy(b.Link[:], enc[off:off+32])
	off += 32
	copy(b.Dividend[:], enc[off:off+32])
	off += 32
	b.Work = wire.Work(binary.BigEndian.Uint64(enc[off:]))
	off += 8
	copy(b.Signature[:], enc[off:off+64])
	return b, nil
}

const accountInfoEncSize = 32 + 16 + 32

func encodeAccountInfo(info ledger.AccountInfo) []byte {
	buf := make([]byte, accountInfoEncSize)
	off := 0
	off += copy(buf[off:], info.Head[:])
	binary.BigEndian.PutUint64(buf[off:], info.Balance.Hi)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], info.Balance.Lo)
	off += 8
	copy(buf[off:], info.Rep[:])
	return buf
}

func decodeAccountInfo(enc []byte) ledger.AccountInfo {
	var info ledger.AccountInfo
	off := 0
	copy(info.Head[:], enc[off:off+32])
	off += 32
	info.Balance.Hi = binary.BigEndian.Uint64(enc[off:])
	off += 8
	info.Balance.Lo = binary.BigEndian.Uint64(enc[off:])
	off += 8
	copy(info.Rep[:], enc[off:off+32])
	return info
}
