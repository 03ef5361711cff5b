// Package wire defines the core's fixed-width value types (Endpoint, Hash,
// Account, Signature, Amount, Work) and the UDP packet header framing.
// It does not define block or vote encodings beyond the header -- those
// live in package blocks.
package wire

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/netip"

	"github.com/chratos-network/core/cryptoutil"
)

// Hash is a 256-bit content hash.
type Hash [32]byte

// String renders the hash as uppercase hex.
func (h Hash) String() string {
	return fmt.Sprintf("%X", h[:])
}

// IsZero reports whether the hash is the all-zero sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("wire: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Less gives Hash a total order, used for lexicographic (sequence, hash)
// comparisons in vote admission.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// Account is a 256-bit ed25519 public key identifying a ledger account or
// representative.
type Account [32]byte

// String renders the account as uppercase hex.
func (a Account) String() string {
	return fmt.Sprintf("%X", a[:])
}

// IsZero reports whether this is the zero account.
func (a Account) IsZero() bool {
	return a == Account{}
}

// NotAnAccount is the sentinel representative key used to seed a fresh
// Election's initial vote.
var NotAnAccount = Account{}

// Signature is a 512-bit ed25519 signature.
type Signature [64]byte

// Amount is a 128-bit unsigned ledger quantity, stored big-endian across
// two uint64 limbs to avoid a big.Int allocation on the hot vote/tally path.
type Amount struct {
	Hi uint64
	Lo uint64
}

// Cmp compares two Amounts, returning -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Add returns a+b, saturating at the maximum 128-bit value on overflow.
func (a Amount) Add(b Amount) Amount {
	lo := a.Lo + b.Lo
	hi := a.Hi + b.Hi
	overflow := hi < a.Hi
	if lo < a.Lo { // carry
		hi++
		overflow = overflow || hi == 0
	}
	if overflow {
		return Amount{Hi: ^uint64(0), Lo: ^uint64(0)}
	}
	return Amount{Hi: hi, Lo: lo}
}

// Sub returns a-b, saturating at zero on underflow.
func (a Amount) Sub(b Amount) Amount {
	if a.Cmp(b) < 0 {
		return Amount{}
	}
	lo := a.Lo - b.Lo
	hi := a.Hi - b.Hi
	if a.Lo < b.Lo { // borrow
		hi--
	}
	return Amount{Hi: hi, Lo: lo}
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// MulPercent returns floor(a * pct / 100). Quorum-delta arithmetic is the
// only place a 128-bit amount needs multiplying by a small percentage,
// so this goes through math/big rather than hand-rolled limb arithmetic.
func (a Amount) MulPercent(pct int) Amount {
	if pct <= 0 || a.IsZero() {
		return Amount{}
	}
	result := new(big.Int).Mul(a.big(), big.NewInt(int64(pct)))
	result.Div(result, big.NewInt(100))
	return amountFromBig(result)
}

// DivUint64 returns floor(a / d), or the zero Amount if d is zero.
func (a Amount) DivUint64(d uint64) Amount {
	if d == 0 {
		return Amount{}
	}
	result := new(big.Int).Div(a.big(), new(big.Int).SetUint64(d))
	return amountFromBig(result)
}

// MulUint64 returns a * m.
func (a Amount) MulUint64(m uint64) Amount {
	if m == 0 || a.IsZero() {
		return Amount{}
	}
	result := new(big.Int).Mul(a.big(), new(big.Int).SetUint64(m))
	return amountFromBig(result)
}

// big converts a to a *big.Int.
func (a Amount) big() *big.Int {
	result := new(big.Int).Lsh(new(big.Int).SetUint64(a.Hi), 64)
	result.Or(result, new(big.Int).SetUint64(a.Lo))
	return result
}

func amountFromBig(v *big.Int) Amount {
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return Amount{Hi: hi, Lo: lo}
}

// Work is a 64-bit proof-of-work nonce.
type Work uint64

// Endpoint is an (IPv6 address, port) pair. All addresses are normalized to
// IPv6 -- IPv4 is stored v4-mapped, so every endpoint tracked has a
// consistent address family.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// NewEndpoint normalizes addr to IPv6 (v4-mapping it if necessary) and
// returns the Endpoint, or an error if addr is invalid.
func NewEndpoint(addr netip.Addr, port uint16) (Endpoint, error) {
	if !addr.IsValid() {
		return Endpoint{}, fmt.Errorf("wire: invalid address")
	}
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
	}
	if !addr.Is6() {
		return Endpoint{}, fmt.Errorf("wire: endpoint address family is not IPv6")
	}
	return Endpoint{Addr: addr, Port: port}, nil
}

// IsIPv6 reports whether Addr is a (possibly v4-mapped) IPv6 address, the
// invariant every tracked endpoint must satisfy.
func (e Endpoint) IsIPv6() bool {
	return e.Addr.Is6() || e.Addr.Is4In6()
}

// String renders the endpoint as "[addr]:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("[%s]:%d", e.Addr, e.Port)
}

// IP returns the underlying IP, unwrapping a v4-mapped address back to v4
// form for display and per-IP accounting (PeerSet caps are per raw IP).
func (e Endpoint) IP() netip.Addr {
	if e.Addr.Is4In6() {
		return e.Addr.Unmap()
	}
	return e.Addr
}

// Signer abstracts signing over a Hash, used so peerset/syncookie/election
// can be built without depending on a concrete representative keypair type.
type Signer interface {
	Account() Account
	Sign(data []byte) Signature
}

// KeyPairSigner implements Signer over an ed25519 keypair produced by
// package cryptoutil.
type KeyPairSigner struct {
	Pub  Account
	Priv cryptoutil.PrivateKey
}

// Account returns the signer's public key.
func (k KeyPairSigner) Account() Account { return k.Pub }

// Sign signs data, returning a fixed-width Signature.
func (k KeyPairSigner) Sign(data []byte) Signature {
	sig := cryptoutil.Sign(k.Priv, data)
	var out Signature
	copy(out[:], sig)
	return out
}
