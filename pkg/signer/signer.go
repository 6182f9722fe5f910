package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the device key used to confirm Safe transactions and authorize
// instant transfers. The hashes handed to SignHash already carry their own
// domain separation (0x19 0x01 scheme), so no message prefix is applied.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// DeviceSigner implements Signer using a local private key.
type DeviceSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewDeviceSigner creates a signer from a hex-encoded private key.
func NewDeviceSigner(hexKey string) (*DeviceSigner, error) {
	if len(hexKey) > 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return FromKey(key), nil
}

// FromKey wraps an existing ECDSA key.
func FromKey(key *ecdsa.PrivateKey) *DeviceSigner {
	return &DeviceSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Generate creates a signer with a fresh random key.
func Generate() (*DeviceSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return FromKey(key), nil
}

func (s *DeviceSigner) Address() common.Address {
	return s.address
}

// SignHash signs a 32-byte hash and normalizes V to 27/28.
func (s *DeviceSigner) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, errors.New("hash must be 32 bytes")
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign hash: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
