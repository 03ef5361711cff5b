package netcore

import (
	"net"
	"net/netip"

	"github.com/chratos-network/core/wire"
)

func netipAddrFromUDP(addr *net.UDPAddr) (netip.Addr, bool) {
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	return ip, true
}

func udpAddrFromEndpoint(ep wire.Endpoint) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(ep.Addr.AsSlice()), Port: int(ep.Port)}
}
