// Package deriver computes the address a property escrow instance will
// receive before the factory creates it, using the CREATE2 construction
// keccak256(0xff ++ deployer ++ salt ++ initCodeHash)[12:].
package deriver

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Derive is a pure function of its inputs and matches the address the
// execution environment assigns to a contract created by deployer with
// the given salt and init code hash.
func Derive(deployer common.Address, salt [32]byte, initCodeHash [32]byte) common.Address {
	hash := ethcrypto.Keccak256([]byte{0xff}, deployer.Bytes(), salt[:], initCodeHash[:])
	return common.BytesToAddress(hash[12:])
}

// Salt maps a property id to its deployment salt: the keccak256 hash of
// the id's minimal big-endian encoding (a single zero byte for id 0).
func Salt(propertyID uint64) [32]byte {
	encoded := new(big.Int).SetUint64(propertyID).Bytes()
	if len(encoded) == 0 {
		encoded = []byte{0}
	}
	var salt [32]byte
	copy(salt[:], ethcrypto.Keccak256(encoded))
	return salt
}

// InitCodeHash binds the constructor arguments of a property instance
// into the derivation, abi.encode style: four left-padded 32-byte words
// for (propertyID, config, factory, host).
func InitCodeHash(propertyID uint64, config, factory, host common.Address) [32]byte {
	var words [4 * 32]byte
	new(big.Int).SetUint64(propertyID).FillBytes(words[0:32])
	copy(words[32+12:64], config.Bytes())
	copy(words[64+12:96], factory.Bytes())
	copy(words[96+12:128], host.Bytes())
	var hash [32]byte
	copy(hash[:], ethcrypto.Keccak256(words[:]))
	return hash
}
