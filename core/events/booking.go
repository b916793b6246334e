package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/core/types"
)

const (
	TypePropertyCreated         = "property.created"
	TypeBookingCreated          = "booking.created"
	TypeBookingCancelledByGuest = "booking.cancelled_by_guest"
	TypeBookingCancelledByHost  = "booking.cancelled_by_host"
	TypeBookingPayout           = "booking.payout"
)

// PropertyCreated is emitted by the factory once per successful batch
// deployment.
type PropertyCreated struct {
	IDs        []uint64
	Properties []common.Address
	Host       common.Address
}

func (PropertyCreated) EventType() string { return TypePropertyCreated }

func (e PropertyCreated) Event() *types.Event {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatUint(id, 10)
	}
	properties := make([]string, len(e.Properties))
	for i, addr := range e.Properties {
		properties[i] = addr.Hex()
	}
	return &types.Event{
		Type: TypePropertyCreated,
		Attributes: map[string]string{
			"ids":        strings.Join(ids, ","),
			"properties": strings.Join(properties, ","),
			"host":       e.Host.Hex(),
		},
	}
}

// BookingCreated is re-emitted by the factory when a property admits a
// new booking.
type BookingCreated struct {
	PropertyID uint64
	BookingID  string
	Guest      common.Address
	Token      common.Address
	Amount     *big.Int
}

func (BookingCreated) EventType() string { return TypeBookingCreated }

func (e BookingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeBookingCreated,
		Attributes: map[string]string{
			"propertyId": strconv.FormatUint(e.PropertyID, 10),
			"bookingId":  e.BookingID,
			"guest":      e.Guest.Hex(),
			"token":      e.Token.Hex(),
			"amount":     formatAmount(e.Amount),
		},
	}
}

// BookingCancelledByGuest carries the three-way split applied when a
// guest cancels.
type BookingCancelledByGuest struct {
	PropertyID     uint64
	BookingID      string
	GuestAmount    *big.Int
	HostAmount     *big.Int
	TreasuryAmount *big.Int
	CancelledAt    int64
}

func (BookingCancelledByGuest) EventType() string { return TypeBookingCancelledByGuest }

func (e BookingCancelledByGuest) Event() *types.Event {
	return &types.Event{
		Type: TypeBookingCancelledByGuest,
		Attributes: map[string]string{
			"propertyId":     strconv.FormatUint(e.PropertyID, 10),
			"bookingId":      e.BookingID,
			"guestAmount":    formatAmount(e.GuestAmount),
			"hostAmount":     formatAmount(e.HostAmount),
			"treasuryAmount": formatAmount(e.TreasuryAmount),
			"cancelledAt":    strconv.FormatInt(e.CancelledAt, 10),
		},
	}
}

// BookingCancelledByHost records a full refund issued by the host or an
// approved delegate.
type BookingCancelledByHost struct {
	PropertyID  uint64
	BookingID   string
	GuestAmount *big.Int
	CancelledAt int64
}

func (BookingCancelledByHost) EventType() string { return TypeBookingCancelledByHost }

func (e BookingCancelledByHost) Event() *types.Event {
	return &types.Event{
		Type: TypeBookingCancelledByHost,
		Attributes: map[string]string{
			"propertyId":  strconv.FormatUint(e.PropertyID, 10),
			"bookingId":   e.BookingID,
			"guestAmount": formatAmount(e.GuestAmount),
			"cancelledAt": strconv.FormatInt(e.CancelledAt, 10),
		},
	}
}

// BookingPayout records a released tranche. PayoutType distinguishes a
// partial release from the final drain.
type BookingPayout struct {
	PropertyID     uint64
	BookingID      string
	HostAmount     *big.Int
	TreasuryAmount *big.Int
	PaidAt         int64
	PayoutType     uint8
}

func (BookingPayout) EventType() string { return TypeBookingPayout }

func (e BookingPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeBookingPayout,
		Attributes: map[string]string{
			"propertyId":     strconv.FormatUint(e.PropertyID, 10),
			"bookingId":      e.BookingID,
			"hostAmount":     formatAmount(e.HostAmount),
			"treasuryAmount": formatAmount(e.TreasuryAmount),
			"paidAt":         strconv.FormatInt(e.PaidAt, 10),
			"payoutType":     strconv.FormatUint(uint64(e.PayoutType), 10),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
