package property

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Typed-data domain binding quotes to one property instance on one
// chain. A quote signed for a different verifyingContract fails
// verification everywhere else, even with an identical booking id.
const (
	DomainName    = "Bookadot Booking"
	DomainVersion = "1"
)

var quoteTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"BookingParameters": {
		{Name: "token", Type: "address"},
		{Name: "bookingId", Type: "string"},
		{Name: "checkInTimestamp", Type: "uint256"},
		{Name: "checkOutTimestamp", Type: "uint256"},
		{Name: "bookingExpirationTimestamp", Type: "uint256"},
		{Name: "bookingAmount", Type: "uint256"},
		{Name: "cancellationPolicies", Type: "CancellationPolicy[]"},
	},
	"CancellationPolicy": {
		{Name: "expiryTime", Type: "uint256"},
		{Name: "refundAmount", Type: "uint256"},
	},
}

// TypedData renders the quote as EIP-712 typed data for the given chain
// and verifying property instance.
func (p *BookingParameters) TypedData(chainID int64, verifyingContract common.Address) apitypes.TypedData {
	policies := make([]interface{}, len(p.CancellationPolicies))
	for i, policy := range p.CancellationPolicies {
		refund := policy.RefundAmount
		if refund == nil {
			refund = big.NewInt(0)
		}
		policies[i] = map[string]interface{}{
			"expiryTime":   (*math.HexOrDecimal256)(big.NewInt(policy.ExpiryTime)),
			"refundAmount": (*math.HexOrDecimal256)(new(big.Int).Set(refund)),
		}
	}
	amount := p.BookingAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return apitypes.TypedData{
		Types:       quoteTypes,
		PrimaryType: "BookingParameters",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"token":                      p.Token.Hex(),
			"bookingId":                  p.BookingID,
			"checkInTimestamp":           (*math.HexOrDecimal256)(big.NewInt(p.CheckInTimestamp)),
			"checkOutTimestamp":          (*math.HexOrDecimal256)(big.NewInt(p.CheckOutTimestamp)),
			"bookingExpirationTimestamp": (*math.HexOrDecimal256)(big.NewInt(p.BookingExpirationTimestamp)),
			"bookingAmount":              (*math.HexOrDecimal256)(new(big.Int).Set(amount)),
			"cancellationPolicies":       policies,
		},
	}
}
