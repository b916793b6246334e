package property

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BookingStatus tracks a booking through its lifecycle. The numeric
// values are part of the external event/read surface and must not be
// reordered.
type BookingStatus uint8

const (
	BookingInProgress BookingStatus = iota
	BookingPartialPayout
	BookingFullyPaidOut
	BookingCancelledByGuest
	BookingCancelledByHost
)

// Valid reports whether the status value is within the supported range.
func (s BookingStatus) Valid() bool {
	return s <= BookingCancelledByHost
}

// Terminal reports whether the status admits no further transitions.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingFullyPaidOut, BookingCancelledByGuest, BookingCancelledByHost:
		return true
	default:
		return false
	}
}

func (s BookingStatus) String() string {
	switch s {
	case BookingInProgress:
		return "in_progress"
	case BookingPartialPayout:
		return "partial_payout"
	case BookingFullyPaidOut:
		return "fully_paid_out"
	case BookingCancelledByGuest:
		return "cancelled_by_guest"
	case BookingCancelledByHost:
		return "cancelled_by_host"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// CancellationPolicy is one milestone of a booking's cancellation
// schedule: cancelling strictly before ExpiryTime refunds RefundAmount.
type CancellationPolicy struct {
	ExpiryTime   int64    `json:"expiryTime"`
	RefundAmount *big.Int `json:"refundAmount"`
}

// Booking is the persisted record of one escrowed stay. Balance starts
// at the booked amount and only ever decreases; zero balance implies a
// terminal status.
type Booking struct {
	ID                   string               `json:"id"`
	Token                common.Address       `json:"token"`
	Guest                common.Address       `json:"guest"`
	Amount               *big.Int             `json:"amount"`
	Balance              *big.Int             `json:"balance"`
	CheckInTimestamp     int64                `json:"checkInTimestamp"`
	CheckOutTimestamp    int64                `json:"checkOutTimestamp"`
	CancellationPolicies []CancellationPolicy `json:"cancellationPolicies"`
	Status               BookingStatus        `json:"status"`
	CreatedAt            int64                `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate freely without
// touching the stored record.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if b.Balance != nil {
		clone.Balance = new(big.Int).Set(b.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	clone.CancellationPolicies = make([]CancellationPolicy, len(b.CancellationPolicies))
	for i, policy := range b.CancellationPolicies {
		clone.CancellationPolicies[i] = CancellationPolicy{
			ExpiryTime:   policy.ExpiryTime,
			RefundAmount: new(big.Int).Set(policy.RefundAmount),
		}
	}
	return &clone
}

// BookingParameters is the signed quote a backend issues off-band and a
// guest redeems exactly once via Book.
type BookingParameters struct {
	Token                      common.Address       `json:"token"`
	BookingID                  string               `json:"bookingId"`
	CheckInTimestamp           int64                `json:"checkInTimestamp"`
	CheckOutTimestamp          int64                `json:"checkOutTimestamp"`
	BookingExpirationTimestamp int64                `json:"bookingExpirationTimestamp"`
	BookingAmount              *big.Int             `json:"bookingAmount"`
	CancellationPolicies       []CancellationPolicy `json:"cancellationPolicies"`
}

var errInvalidParameters = errors.New("property: invalid booking parameters")

// Validate checks the structural invariants of a quote: positive amount,
// non-empty id, and a cancellation schedule with ascending expiries and
// non-increasing refunds bounded by the booking amount.
func (p *BookingParameters) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", errInvalidParameters)
	}
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("%w: empty booking id", errInvalidParameters)
	}
	if p.BookingAmount == nil || p.BookingAmount.Sign() <= 0 {
		return fmt.Errorf("%w: booking amount must be positive", errInvalidParameters)
	}
	if len(p.CancellationPolicies) == 0 {
		return fmt.Errorf("%w: cancellation schedule required", errInvalidParameters)
	}
	var (
		prevExpiry int64
		prevRefund *big.Int
	)
	for i, policy := range p.CancellationPolicies {
		if policy.RefundAmount == nil || policy.RefundAmount.Sign() < 0 {
			return fmt.Errorf("%w: refund amount at milestone %d", errInvalidParameters, i)
		}
		if policy.RefundAmount.Cmp(p.BookingAmount) > 0 {
			return fmt.Errorf("%w: refund exceeds booking amount at milestone %d", errInvalidParameters, i)
		}
		if i > 0 {
			if policy.ExpiryTime <= prevExpiry {
				return fmt.Errorf("%w: milestone expiries must ascend", errInvalidParameters)
			}
			if policy.RefundAmount.Cmp(prevRefund) > 0 {
				return fmt.Errorf("%w: refund amounts must not increase", errInvalidParameters)
			}
		}
		prevExpiry = policy.ExpiryTime
		prevRefund = policy.RefundAmount
	}
	return nil
}
