package main

import (
	"fmt"
	"os"

	"github.com/chratos-network/core/cryptoutil"
	"github.com/chratos-network/core/wire"
)

// loadOrGenerateKey reads the ed25519 seed at path, or generates and
// persists a new one at mode 0600 if the file doesn't exist yet.
func loadOrGenerateKey(path string) (wire.KeyPairSigner, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return keyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return wire.KeyPairSigner{}, err
	}

	pub, priv, err := cryptoutil.GenerateKey()
	if err != nil {
		return wire.KeyPairSigner{}, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0600); err != nil {
		return wire.KeyPairSigner{}, fmt.Errorf("write key: %w", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}, nil
}

func keyFromSeed(seed []byte) (wire.KeyPairSigner, error) {
	pub, priv, err := cryptoutil.KeyFromSeed(seed)
	if err != nil {
		return wire.KeyPairSigner{}, fmt.Errorf("derive key from seed: %w", err)
	}
	return wire.KeyPairSigner{Pub: wire.Account(pub), Priv: priv}, nil
}
