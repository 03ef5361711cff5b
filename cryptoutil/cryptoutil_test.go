package cryptoutil

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	msg := []byte("hello chratos")
	sig := Sign(priv, msg)

	if !Verify(pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}

	sig[0] ^= 0xFF
	if Verify(pub, msg, sig) {
		t.Fatal("expected mutated signature to fail verification")
	}
}

func TestHash256Deterministic(t *testing.T) {
	a := Hash256([]byte("left"), []byte("right"))
	b := Hash256([]byte("left"), []byte("right"))
	if a != b {
		t.Fatal("expected identical inputs to hash identically")
	}

	c := Hash256([]byte("leftright"))
	if a != c {
		t.Fatal("expected multi-part input to hash as the concatenation of its parts")
	}
}

func TestKeyFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}

	pub1, _, err := KeyFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}
	pub2, _, err := KeyFromSeed(seed)
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}

	if string(pub1) != string(pub2) {
		t.Fatal("expected deterministic derivation from seed")
	}
}
