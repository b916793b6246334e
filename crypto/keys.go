package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 private key used by backend signers and
// test actors.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the raw 32-byte scalar of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the Ethereum-style address of the key holder.
func (k *PrivateKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

func (k *PublicKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(*k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex decodes a hex-encoded private key, accepting an
// optional 0x prefix.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	return PrivateKeyFromBytes(raw)
}

// ParseAddress validates and decodes a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("crypto: invalid address %q", s)
	}
	return common.HexToAddress(trimmed), nil
}
