package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"bookadot/crypto"
)

func testTypedData(chainID int64, contract common.Address, amount int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "buyer", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Test",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"buyer":  common.HexToAddress("0x01").Hex(),
			"amount": (*math.HexOrDecimal256)(big.NewInt(amount)),
		},
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	typedData := testTypedData(1, common.HexToAddress("0xabc"), 100)
	signature, err := Sign(typedData, key)
	require.NoError(t, err)
	require.Len(t, signature, 65)
	require.GreaterOrEqual(t, signature[64], byte(27))

	require.NoError(t, Verify(typedData, signature, key.Address()))

	recovered, err := RecoverSigner(typedData, signature)
	require.NoError(t, err)
	require.Equal(t, key.Address(), recovered)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	signer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	typedData := testTypedData(1, common.HexToAddress("0xabc"), 100)
	signature, err := Sign(typedData, signer)
	require.NoError(t, err)

	err = Verify(typedData, signature, other.Address())
	require.ErrorIs(t, err, ErrUnauthorizedSigner)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	typedData := testTypedData(1, common.HexToAddress("0xabc"), 100)

	err = Verify(typedData, []byte{0x01, 0x02}, key.Address())
	require.ErrorIs(t, err, ErrUnauthorizedSigner)

	err = Verify(typedData, make([]byte, 65), key.Address())
	require.ErrorIs(t, err, ErrUnauthorizedSigner)
}

func TestSignatureIsDomainBound(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	original := testTypedData(1, common.HexToAddress("0xabc"), 100)
	signature, err := Sign(original, key)
	require.NoError(t, err)

	otherChain := testTypedData(5, common.HexToAddress("0xabc"), 100)
	require.ErrorIs(t, Verify(otherChain, signature, key.Address()), ErrUnauthorizedSigner)

	otherContract := testTypedData(1, common.HexToAddress("0xdef"), 100)
	require.ErrorIs(t, Verify(otherContract, signature, key.Address()), ErrUnauthorizedSigner)

	otherMessage := testTypedData(1, common.HexToAddress("0xabc"), 101)
	require.ErrorIs(t, Verify(otherMessage, signature, key.Address()), ErrUnauthorizedSigner)
}
