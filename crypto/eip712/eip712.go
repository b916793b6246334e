// Package eip712 verifies and produces EIP-712 typed-data signatures.
// Digest construction is delegated to go-ethereum's canonical encoder so
// signatures interoperate with standard wallet tooling.
package eip712

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"bookadot/crypto"
)

// ErrUnauthorizedSigner is returned whenever a signature cannot be tied
// to the expected signer: wrong length, malformed encoding, or a
// recovery that yields a different address. The verifier fails closed.
var ErrUnauthorizedSigner = errors.New("eip712: unauthorized signer")

const signatureLength = 65

// Hash returns the 32-byte digest \x19\x01 || domainSeparator ||
// hashStruct(message) for the supplied typed data.
func Hash(typedData apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("eip712: hash typed data: %w", err)
	}
	return digest, nil
}

// RecoverSigner recovers the address that produced signature over the
// typed-data digest. The signature is the 65-byte r||s||v form with v in
// {0, 1, 27, 28}.
func RecoverSigner(typedData apitypes.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes (got %d)", ErrUnauthorizedSigner, signatureLength, len(signature))
	}
	digest, err := Hash(typedData)
	if err != nil {
		return common.Address{}, err
	}
	normalized := make([]byte, signatureLength)
	copy(normalized, signature)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthorizedSigner, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify recovers the signer and compares it against expected. Any
// failure mode surfaces as ErrUnauthorizedSigner.
func Verify(typedData apitypes.TypedData, signature []byte, expected common.Address) error {
	recovered, err := RecoverSigner(typedData, signature)
	if err != nil {
		return err
	}
	if recovered != expected {
		return ErrUnauthorizedSigner
	}
	return nil
}

// Sign produces a 65-byte signature over the typed-data digest with v
// offset to 27/28, matching wallet output.
func Sign(typedData apitypes.TypedData, key *crypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("eip712: nil signing key")
	}
	digest, err := Hash(typedData)
	if err != nil {
		return nil, err
	}
	signature, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("eip712: sign digest: %w", err)
	}
	signature[64] += 27
	return signature, nil
}
