// Package quote builds and signs booking quotes the way the platform
// backend does off-band. A signed quote is redeemed exactly once through
// a property instance's Book operation.
package quote

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bookadot/crypto"
	"bookadot/crypto/eip712"
	"bookadot/native/property"
)

// Issuer signs booking quotes with the backend key for one chain.
type Issuer struct {
	key     *crypto.PrivateKey
	chainID int64
}

func NewIssuer(key *crypto.PrivateKey, chainID int64) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("quote: signing key required")
	}
	return &Issuer{key: key, chainID: chainID}, nil
}

// Address returns the signer address guests' quotes verify against.
func (i *Issuer) Address() common.Address {
	return i.key.Address()
}

// Sign validates the parameters and signs them for the given property
// instance. The signature is only valid for that instance on the
// issuer's chain.
func (i *Issuer) Sign(params *property.BookingParameters, instance common.Address) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return eip712.Sign(params.TypedData(i.chainID, instance), i.key)
}

// NewBookingID generates a fresh opaque booking identifier.
func NewBookingID() string {
	return uuid.NewString()
}

// Build assembles quote parameters with a generated booking id and a
// standard two-milestone cancellation schedule: full refund until
// freeCancellation, half refund until check-in, nothing afterwards.
func Build(token common.Address, amount *big.Int, freeCancellation, checkIn, checkOut int64) *property.BookingParameters {
	half := new(big.Int).Div(amount, big.NewInt(2))
	return &property.BookingParameters{
		Token:                      token,
		BookingID:                  NewBookingID(),
		CheckInTimestamp:           checkIn,
		CheckOutTimestamp:          checkOut,
		BookingExpirationTimestamp: checkIn,
		BookingAmount:              new(big.Int).Set(amount),
		CancellationPolicies: []property.CancellationPolicy{
			{ExpiryTime: freeCancellation, RefundAmount: new(big.Int).Set(amount)},
			{ExpiryTime: checkIn, RefundAmount: half},
		},
	}
}
