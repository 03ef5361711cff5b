package wire

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies packets belonging to this network, the first two bytes
// of every header.
var Magic = [2]byte{'C', 'R'}

// HeaderSize is the fixed 8-byte header length: magic(2) + version fields(3)
// + kind(1) + extensions(2).
const HeaderSize = 8

// Kind enumerates wire message kinds, with fixed numeric values so
// on-wire encodings are stable across implementations.
type Kind uint8

const (
	KindInvalid         Kind = 0
	KindNotAType        Kind = 1
	KindKeepalive       Kind = 2
	KindPublish         Kind = 3
	KindConfirmReq      Kind = 4
	KindConfirmAck      Kind = 5
	KindBulkPull        Kind = 6
	KindBulkPush        Kind = 7
	KindFrontierReq     Kind = 8
	KindBulkPullBlocks  Kind = 9
	KindNodeIDHandshake Kind = 10
	KindBulkPullAccount Kind = 11
)

// String names a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotAType:
		return "not_a_type"
	case KindKeepalive:
		return "keepalive"
	case KindPublish:
		return "publish"
	case KindConfirmReq:
		return "confirm_req"
	case KindConfirmAck:
		return "confirm_ack"
	case KindBulkPull:
		return "bulk_pull"
	case KindBulkPush:
		return "bulk_push"
	case KindFrontierReq:
		return "frontier_req"
	case KindBulkPullBlocks:
		return "bulk_pull_blocks"
	case KindNodeIDHandshake:
		return "node_id_handshake"
	case KindBulkPullAccount:
		return "bulk_pull_account"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// udpOnly reports whether a kind is valid over this core's UDP transport.
// bulk_* / frontier_req are stream-sync kinds and must be treated as a
// protocol error when seen here.
func (k Kind) udpOnly() bool {
	switch k {
	case KindBulkPull, KindBulkPush, KindFrontierReq, KindBulkPullBlocks, KindBulkPullAccount:
		return false
	default:
		return true
	}
}

// IsValidOverUDP reports whether k may legally appear on this core's UDP
// socket.
func (k Kind) IsValidOverUDP() bool {
	return k.udpOnly()
}

// Header is the fixed 8-byte packet header preceding every message body.
type Header struct {
	VersionUsing uint8
	VersionMax   uint8
	VersionMin   uint8
	Kind         Kind
	Extensions   uint16
}

// Encode writes the header into an 8-byte array.
func (h Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	out[0], out[1] = Magic[0], Magic[1]
	out[2] = h.VersionUsing
	out[3] = h.VersionMax
	out[4] = h.VersionMin
	out[5] = byte(h.Kind)
	binary.BigEndian.PutUint16(out[6:8], h.Extensions)
	return out
}

// ErrBadHeader is returned by ParseHeader for any malformed header.
var ErrBadHeader = fmt.Errorf("wire: bad header")

// ParseHeader decodes the fixed 8-byte header from the front of buf. It
// returns ErrBadHeader on a short buffer or bad magic; callers treat
// these as parse errors and continue the receive loop rather than
// aborting it.
func ParseHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, ErrBadHeader
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] {
		return Header{}, nil, ErrBadHeader
	}
	h := Header{
		VersionUsing: buf[2],
		VersionMax:   buf[3],
		VersionMin:   buf[4],
		Kind:         Kind(buf[5]),
		Extensions:   binary.BigEndian.Uint16(buf[6:8]),
	}
	return h, buf[HeaderSize:], nil
}

// NodeIDHandshakeVersion is the minimum protocol version that supports the
// node_id_handshake exchange.
const NodeIDHandshakeVersion = 10

// MaxBlockWireSize bounds the largest encodable block variant: the MTU
// must accommodate the largest block variant (<=1KB) plus header.
const MaxBlockWireSize = 1024

// MaxDatagramSize is the maximum UDP payload this core will read/write,
// large enough for the header plus the largest block or an up-to-12-vote
// confirm_ack bundle.
const MaxDatagramSize = 1280
