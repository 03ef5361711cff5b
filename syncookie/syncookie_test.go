package syncookie

import (
	"net/netip"
	"testing"
	"time"

	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/wire"
)

func mustEndpoint(t *testing.T, ip string, port uint16) wire.Endpoint {
	t.Helper()
	addr := netip.MustParseAddr(ip)
	ep, err := wire.NewEndpoint(addr, port)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return ep
}

func TestAssignThenValidateSucceedsAndConsumes(t *testing.T) {
	table := New()
	ep := mustEndpoint(t, "203.0.113.10", 7075)

	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	challenge, ok := table.Assign(ep)
	if !ok {
		t.Fatal("expected Assign to succeed")
	}

	sig := cryptoutil.Sign(priv, challenge[:])
	var wireSig wire.Signature
	copy(wireSig[:], sig)

	if !table.Validate(ep, wire.Account(pub), wireSig) {
		t.Fatal("expected Validate to succeed")
	}
	if table.Validate(ep, wire.Account(pub), wireSig) {
		t.Fatal("expected replayed validate to fail: the cookie should be consumed")
	}
}

func TestValidateRejectsWrongSigner(t *testing.T) {
	table := New()
	ep := mustEndpoint(t, "203.0.113.11", 7075)

	_, wrongPriv, _ := cryptoutil.GenerateKey()
	rightPub, _, _ := cryptoutil.GenerateKey()

	challenge, ok := table.Assign(ep)
	if !ok {
		t.Fatal("expected Assign to succeed")
	}
	sig := cryptoutil.Sign(wrongPriv, challenge[:])
	var wireSig wire.Signature
	copy(wireSig[:], sig)

	if table.Validate(ep, wire.Account(rightPub), wireSig) {
		t.Fatal("expected validate to fail for mismatched signer")
	}
}

func TestAssignEnforcesPerIPCap(t *testing.T) {
	table := New()
	base := netip.MustParseAddr("198.18.1.1")

	accepted := 0
	for i := 0; i < MaxPeersPerIP+1; i++ {
		ep, err := wire.NewEndpoint(base, uint16(7000+i))
		if err != nil {
			t.Fatalf("NewEndpoint: %v", err)
		}
		if _, ok := table.Assign(ep); ok {
			accepted++
		}
	}
	if accepted != MaxPeersPerIP {
		t.Fatalf("expected exactly %d cookies issued, got %d", MaxPeersPerIP, accepted)
	}
}

func TestPurgeRestoresCapacity(t *testing.T) {
	table := New()
	base := netip.MustParseAddr("198.18.2.1")

	for i := 0; i < MaxPeersPerIP; i++ {
		ep, _ := wire.NewEndpoint(base, uint16(7000+i))
		table.Assign(ep)
	}

	overflow, _ := wire.NewEndpoint(base, 9000)
	if _, ok := table.Assign(overflow); ok {
		t.Fatal("expected cap to be full before purge")
	}

	removed := table.Purge(time.Now().Add(time.Second))
	if removed != MaxPeersPerIP {
		t.Fatalf("expected all %d entries purged, got %d", MaxPeersPerIP, removed)
	}
	if _, ok := table.Assign(overflow); !ok {
		t.Fatal("expected capacity to be restored after purge")
	}
}
