package netcore

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/chratos-network/core/wire"
)

// endpointWireSize is the fixed per-endpoint encoding used in keepalive
// payloads: a 16-byte IPv6 address (v4-mapped when necessary) plus a
// 2-byte port.
const endpointWireSize = 16 + 2

func encodeEndpoint(ep wire.Endpoint) [endpointWireSize]byte {
	var out [endpointWireSize]byte
	addr16 := ep.Addr.As16()
	copy(out[:16], addr16[:])
	binary.BigEndian.PutUint16(out[16:18], ep.Port)
	return out
}

func decodeEndpoint(b []byte) (wire.Endpoint, error) {
	if len(b) < endpointWireSize {
		return wire.Endpoint{}, fmt.Errorf("netcore: short endpoint encoding")
	}
	var raw [16]byte
	copy(raw[:], b[:16])
	addr := netip.AddrFrom16(raw)
	port := binary.BigEndian.Uint16(b[16:18])
	return wire.NewEndpoint(addr, port)
}

// keepaliveEndpointCount is how many peers a keepalive payload gossips.
const keepaliveEndpointCount = 8

func encodeKeepalive(peers [keepaliveEndpointCount]wire.Endpoint) []byte {
	buf := make([]byte, 0, keepaliveEndpointCount*endpointWireSize)
	for _, ep := range peers {
		enc := encodeEndpoint(ep)
		buf = append(buf, enc[:]...)
	}
	return buf
}

func decodeKeepalive(body []byte) ([keepaliveEndpointCount]wire.Endpoint, error) {
	var out [keepaliveEndpointCount]wire.Endpoint
	if len(body) < keepaliveEndpointCount*endpointWireSize {
		return out, fmt.Errorf("netcore: short keepalive payload")
	}
	for i := 0; i < keepaliveEndpointCount; i++ {
		ep, err := decodeEndpoint(body[i*endpointWireSize : (i+1)*endpointWireSize])
		if err != nil {
			return out, err
		}
		out[i] = ep
	}
	return out, nil
}

// node_id_handshake extension bits: whether the message carries a query
// (a challenge the recipient should answer) and/or a response (an
// answer to a challenge the sender previously received).
const (
	extHandshakeQuery    uint16 = 1 << 0
	extHandshakeResponse uint16 = 1 << 1
)

type handshakeResponse struct {
	account   wire.Account
	signature wire.Signature
}

func encodeHandshake(query *[32]byte, response *handshakeResponse) (body []byte, ext uint16) {
	if query != nil {
		body = append(body, query[:]...)
		ext |= extHandshakeQuery
	}
	if response != nil {
		body = append(body, response.account[:]...)
		body = append(body, response.signature[:]...)
		ext |= extHandshakeResponse
	}
	return body, ext
}

func decodeHandshake(body []byte, ext uint16) (query *[32]byte, response *handshakeResponse, err error) {
	off := 0
	if ext&extHandshakeQuery != 0 {
		if len(body) < off+32 {
			return nil, nil, fmt.Errorf("netcore: short node_id_handshake query")
		}
		var q [32]byte
		copy(q[:], body[off:off+32])
		query = &q
		off += 32
	}
	if ext&extHandshakeResponse != 0 {
		if len(body) < off+32+64 {
			return nil, nil, fmt.Errorf("netcore: short node_id_handshake response")
		}
		var r handshakeResponse
		copy(r.account[:], body[off:off+32])
		off += 32
		copy(r.signature[:], body[off:off+64])
		response = &r
	}
	return query, response, nil
}
