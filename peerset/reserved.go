package peerset

import "net/netip"

// ipv4Range is an inclusive [Lo, Hi] range of dotted-quad addresses.
type ipv4Range struct{ lo, hi [4]byte }

func ipv4In(a [4]byte, r ipv4Range) bool {
	return lexLE(a, r.hi) && lexGE(a, r.lo)
}

func lexLE(a, b [4]byte) bool {
	for i := 0; i < 4; i++ {
		if a[i] < b[i] {
			return true
		}
		if a[i] > b[i] {
			return false
		}
	}
	return true
}

func lexGE(a, b [4]byte) bool {
	return lexLE(b, a)
}

// Always-reserved IPv4 ranges, regardless of network:
//   RFC1700 (0.0.0.0/8), RFC5737 (three TEST-NET blocks), multicast
//   (224.0.0.0/4), RFC6890 (240.0.0.0/4).
var alwaysReservedV4 = []ipv4Range{
	{[4]byte{0, 0, 0, 0}, [4]byte{0, 255, 255, 255}},         // RFC1700
	{[4]byte{192, 0, 2, 0}, [4]byte{192, 0, 2, 255}},         // RFC5737 TEST-NET-1
	{[4]byte{198, 51, 100, 0}, [4]byte{198, 51, 100, 255}},   // RFC5737 TEST-NET-2
	{[4]byte{203, 0, 113, 0}, [4]byte{203, 0, 113, 255}},     // RFC5737 TEST-NET-3
	{[4]byte{224, 0, 0, 0}, [4]byte{239, 255, 255, 255}},     // multicast
	{[4]byte{240, 0, 0, 0}, [4]byte{255, 255, 255, 255}},     // RFC6890
}

// rfc6598 (100.64.0.0/10) and RFC1918 are only reserved on the live
// network: a test/beta network deliberately allows these so local
// clusters of nodes can talk to each other over private addressing.
var liveOnlyReservedV4 = []ipv4Range{
	{[4]byte{100, 64, 0, 0}, [4]byte{100, 127, 255, 255}}, // RFC6598
}

var ipv4LoopbackRange = ipv4Range{[4]byte{127, 0, 0, 0}, [4]byte{127, 255, 255, 255}}

var rfc3849 = netip.MustParsePrefix("2001:db8::/32")
var rfc6666 = netip.MustParsePrefix("100::/64")

// IsReserved reports whether addr falls in a reserved address range
// (RFC1700/1918/5737/6598/3849/4193/6666/6890, multicast). liveNetwork
// gates the RFC1918/RFC6598 private-address checks; blacklistLoopback
// additionally rejects loopback addresses (loopback is allowed by
// default so single-host test networks can run multiple peers).
func IsReserved(addr netip.Addr, liveNetwork, blacklistLoopback bool) bool {
	if blacklistLoopback && addr.IsLoopback() {
		return true
	}

	if v4 := unwrapV4(addr); v4 != (netip.Addr{}) {
		bytes := v4.As4()
		for _, r := range alwaysReservedV4 {
			if ipv4In(bytes, r) {
				return true
			}
		}
		if blacklistLoopback && ipv4In(bytes, ipv4LoopbackRange) {
			return true
		}
		if liveNetwork {
			for _, r := range liveOnlyReservedV4 {
				if ipv4In(bytes, r) {
					return true
				}
			}
			if addr.IsPrivate() {
				return true
			}
		}
		return false
	}

	if addr.IsMulticast() {
		return true
	}
	if rfc3849.Contains(addr) {
		return true
	}
	if rfc6666.Contains(addr) {
		return true
	}
	if liveNetwork && addr.IsPrivate() {
		// Covers the RFC4193 unique-local /7, which net/netip's
		// IsPrivate implements for IPv6 the same way RFC1918 is
		// implemented for IPv4.
		return true
	}
	return false
}

// unwrapV4 returns the plain IPv4 address if addr is v4 or v4-in-v6
// mapped, else the zero Addr.
func unwrapV4(addr netip.Addr) netip.Addr {
	if addr.Is4() {
		return addr
	}
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return netip.Addr{}
}
