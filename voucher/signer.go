package voucher

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces secp256k1 signatures over 32 byte digests.
type Signer interface {
	// Address returns the Ethereum address of the signing key.
	Address() common.Address
	// SignDigest returns a 65 byte [R || S || V] signature with V in {0, 1}.
	SignDigest(digest []byte) ([]byte, error)
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner returns a Signer backed by key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// NewKeySignerFromHex returns a Signer from a hex encoded private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %v: %w", err, ErrSigningFailed)
	}
	return NewKeySigner(key), nil
}

// Address implements Signer.
func (s *KeySigner) Address() common.Address {
	if s == nil || s.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignDigest implements Signer.
func (s *KeySigner) SignDigest(digest []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("no private key: %w", ErrSigningFailed)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrSigningFailed)
	}
	return sig, nil
}
