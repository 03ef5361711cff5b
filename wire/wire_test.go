package wire

import (
	"net/netip"
	"testing"
)

func TestNewEndpointNormalizesToIPv6(t *testing.T) {
	v4 := netip.MustParseAddr("203.0.113.5")
	ep, err := NewEndpoint(v4, 7075)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	if !ep.IsIPv6() {
		t.Fatal("expected endpoint to be classified as IPv6")
	}
	if ep.IP().String() != "203.0.113.5" {
		t.Fatalf("expected IP() to unwrap back to v4, got %s", ep.IP())
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{VersionUsing: 18, VersionMax: 18, VersionMin: 16, Kind: KindConfirmAck, Extensions: 0x0102}
	buf := h.Encode()

	parsed, rest, err := ParseHeader(buf[:])
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, h)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := Header{Kind: KindKeepalive}.Encode()
	buf[0] = 'X'
	if _, _, err := ParseHeader(buf[:]); err != ErrBadHeader {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	if _, _, err := ParseHeader([]byte{1, 2, 3}); err != ErrBadHeader {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := Amount{Hi: 0, Lo: 100}
	b := Amount{Hi: 0, Lo: 40}

	if got := a.Add(b); got != (Amount{Lo: 140}) {
		t.Fatalf("Add: got %+v", got)
	}
	if got := a.Sub(b); got != (Amount{Lo: 60}) {
		t.Fatalf("Sub: got %+v", got)
	}
	if got := b.Sub(a); !got.IsZero() {
		t.Fatalf("Sub underflow should saturate at zero, got %+v", got)
	}
	if got := a.MulPercent(50); got != (Amount{Lo: 50}) {
		t.Fatalf("MulPercent: got %+v", got)
	}
}

func TestAmountDivAndMulUint64(t *testing.T) {
	a := Amount{Lo: 1000}
	if got := a.DivUint64(256); got != (Amount{Lo: 3}) {
		t.Fatalf("DivUint64: got %+v", got)
	}
	if got := a.MulUint64(3); got != (Amount{Lo: 3000}) {
		t.Fatalf("MulUint64: got %+v", got)
	}
	if got := (Amount{}).DivUint64(5); !got.IsZero() {
		t.Fatalf("expected zero amount divided to stay zero, got %+v", got)
	}
}

func TestAmountCmp(t *testing.T) {
	a := Amount{Hi: 1, Lo: 0}
	b := Amount{Hi: 0, Lo: ^uint64(0)}
	if a.Cmp(b) <= 0 {
		t.Fatal("expected a > b")
	}
}

func TestHashLess(t *testing.T) {
	var a, b Hash
	a[31] = 1
	b[31] = 2
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected b > a")
	}
}

func TestKindUDPValidity(t *testing.T) {
	if !KindConfirmAck.IsValidOverUDP() {
		t.Fatal("confirm_ack should be valid over UDP")
	}
	if KindBulkPull.IsValidOverUDP() {
		t.Fatal("bulk_pull should not be valid over UDP")
	}
}
