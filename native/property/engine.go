// Package property implements the per-property escrow state machine:
// signature-gated booking, policy-driven cancellation refunds and
// milestone payouts, and host delegation.
package property

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/crypto/eip712"
	"bookadot/native/bank"
)

var (
	ErrTokenNotWhitelisted = errors.New("property: token is not whitelisted")
	ErrBookingExpired      = errors.New("property: booking data is expired")
	ErrDuplicateBooking    = errors.New("property: booking already exists")
	ErrBookingNotFound     = errors.New("property: booking does not exist")
	ErrNotGuest            = errors.New("property: only the guest can cancel the booking")
	ErrNotHostOrDelegate   = errors.New("property: only the host or a host's delegate is authorized")
	ErrAlreadyFinalized    = errors.New("property: booking is already cancelled or fully paid out")
	ErrInvalidPayout       = errors.New("property: invalid payout call")
	ErrInvalidValue        = errors.New("property: attached value does not match booking amount")
	errNilState            = errors.New("property: state not configured")
)

// State is the persistence surface a property engine requires. The
// booking index preserves insertion order; delegates are keyed per host.
type State interface {
	BookingPut(propertyID uint64, booking *Booking) error
	BookingGet(propertyID uint64, bookingID string) (*Booking, bool)
	BookingIDs(propertyID uint64) []string
	DelegatePut(propertyID uint64, host, delegate common.Address) error
	DelegateGet(propertyID uint64, host common.Address) (common.Address, bool)
	DelegateDelete(propertyID uint64, host common.Address) error
}

// FundsLedger moves escrowed value. Implemented by bank.Ledger.
type FundsLedger interface {
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error
}

// PlatformConfig is the injected global configuration reference.
type PlatformConfig interface {
	FeeBps() uint32
	PayoutDelay() int64
	Treasury() common.Address
	Backend() common.Address
	ChainID() int64
	IsTokenWhitelisted(token common.Address) bool
}

// LifecycleForwarder receives every state transition so the factory can
// re-emit it tagged with the property id as a single event stream.
type LifecycleForwarder interface {
	BookingCreated(instance common.Address, booking *Booking) error
	BookingCancelledByGuest(instance common.Address, bookingID string, guestAmount, hostAmount, treasuryAmount *big.Int, cancelledAt int64) error
	BookingCancelledByHost(instance common.Address, bookingID string, guestAmount *big.Int, cancelledAt int64) error
	BookingPaidOut(instance common.Address, bookingID string, hostAmount, treasuryAmount *big.Int, paidAt int64, payoutType uint8) error
}

// Payout type codes forwarded with booking.payout events.
const (
	PayoutTypePartial uint8 = 1
	PayoutTypeFinal   uint8 = 2
)

// Property is one escrow instance. All funds for its bookings are held
// at the instance address; every transition either fully applies or
// leaves state untouched.
type Property struct {
	id        uint64
	address   common.Address
	host      common.Address
	config    PlatformConfig
	state     State
	ledger    FundsLedger
	forwarder LifecycleForwarder
	nowFn     func() int64
}

// NewProperty binds an escrow instance to its id, derived address, host
// and collaborators.
func NewProperty(id uint64, address, host common.Address, config PlatformConfig, state State, ledger FundsLedger, forwarder LifecycleForwarder) *Property {
	return &Property{
		id:        id,
		address:   address,
		host:      host,
		config:    config,
		state:     state,
		ledger:    ledger,
		forwarder: forwarder,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (p *Property) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

func (p *Property) ID() uint64              { return p.id }
func (p *Property) Address() common.Address { return p.address }
func (p *Property) Host() common.Address    { return p.host }

func (p *Property) now() int64 { return p.nowFn() }

// Book redeems a signed quote: verifies the backend signature bound to
// this instance, pulls the booking amount into escrow and records the
// booking. For native-token quotes the attached value must equal the
// booking amount; for other tokens funds are pulled under allowance.
func (p *Property) Book(caller common.Address, value *big.Int, params *BookingParameters, signature []byte) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	typedData := params.TypedData(p.config.ChainID(), p.address)
	if err := eip712.Verify(typedData, signature, p.config.Backend()); err != nil {
		return err
	}
	if !p.config.IsTokenWhitelisted(params.Token) {
		return ErrTokenNotWhitelisted
	}
	now := p.now()
	if now > params.BookingExpirationTimestamp {
		return ErrBookingExpired
	}
	if _, exists := p.state.BookingGet(p.id, params.BookingID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBooking, params.BookingID)
	}

	amount := new(big.Int).Set(params.BookingAmount)
	if params.Token == bank.NativeToken {
		if value == nil || value.Cmp(amount) != 0 {
			return ErrInvalidValue
		}
		if err := p.ledger.Transfer(params.Token, caller, p.address, amount); err != nil {
			return err
		}
	} else {
		if value != nil && value.Sign() != 0 {
			return ErrInvalidValue
		}
		if err := p.ledger.TransferFrom(params.Token, caller, p.address, p.address, amount); err != nil {
			return err
		}
	}

	booking := &Booking{
		ID:                   params.BookingID,
		Token:                params.Token,
		Guest:                caller,
		Amount:               amount,
		Balance:              new(big.Int).Set(amount),
		CheckInTimestamp:     params.CheckInTimestamp,
		CheckOutTimestamp:    params.CheckOutTimestamp,
		CancellationPolicies: params.CancellationPolicies,
		Status:               BookingInProgress,
		CreatedAt:            now,
	}
	if err := p.state.BookingPut(p.id, booking); err != nil {
		// Return the escrowed funds so the failed call leaves no
		// value stranded at the instance.
		if refundErr := p.ledger.Transfer(params.Token, p.address, caller, amount); refundErr != nil {
			return fmt.Errorf("%w (refund escrow: %v)", err, refundErr)
		}
		return err
	}
	return p.forwarder.BookingCreated(p.address, booking.Clone())
}

// Cancel lets the guest abandon an in-progress booking. The refund is
// the amount of the first milestone still ahead of the clock; the
// remainder splits between treasury fee and host.
func (p *Property) Cancel(caller common.Address, bookingID string) error {
	booking, err := p.loadBooking(bookingID)
	if err != nil {
		return err
	}
	if booking.Guest != caller {
		return ErrNotGuest
	}
	if booking.Status != BookingInProgress {
		return ErrAlreadyFinalized
	}
	now := p.now()
	refund := refundableAt(booking.CancellationPolicies, now)
	if refund.Cmp(booking.Balance) > 0 {
		refund = new(big.Int).Set(booking.Balance)
	}
	remainder := new(big.Int).Sub(booking.Balance, refund)
	fee, hostAmount := splitFee(remainder, p.config.FeeBps())

	prev := booking.Clone()
	booking.Balance = big.NewInt(0)
	booking.Status = BookingCancelledByGuest
	if err := p.applySettlement(prev, booking, []payment{
		{to: booking.Guest, amount: refund},
		{to: p.config.Treasury(), amount: fee},
		{to: p.host, amount: hostAmount},
	}); err != nil {
		return err
	}
	return p.forwarder.BookingCancelledByGuest(p.address, bookingID, refund, hostAmount, fee, now)
}

// CancelByHost refunds the full remaining balance to the guest. Only
// the host or its currently-approved delegate may call it; a delegate
// loses authority the moment it is revoked.
func (p *Property) CancelByHost(caller common.Address, bookingID string) error {
	if !p.isHostOrDelegate(caller) {
		return ErrNotHostOrDelegate
	}
	booking, err := p.loadBooking(bookingID)
	if err != nil {
		return err
	}
	if booking.Status != BookingInProgress {
		return ErrAlreadyFinalized
	}
	refund := new(big.Int).Set(booking.Balance)
	now := p.now()

	prev := booking.Clone()
	booking.Balance = big.NewInt(0)
	booking.Status = BookingCancelledByHost
	if err := p.applySettlement(prev, booking, []payment{
		{to: booking.Guest, amount: refund},
	}); err != nil {
		return err
	}
	return p.forwarder.BookingCancelledByHost(p.address, bookingID, refund, now)
}

// Payout releases every newly-elapsed milestone tranche to the host and
// treasury. Callable by anyone once a milestone (plus the configured
// payout delay) has passed.
func (p *Property) Payout(bookingID string) error {
	booking, err := p.loadBooking(bookingID)
	if err != nil {
		return err
	}
	if booking.Status != BookingInProgress && booking.Status != BookingPartialPayout {
		return ErrAlreadyFinalized
	}
	now := p.now()
	releasable := releasableAt(booking.CancellationPolicies, booking.Balance, now, p.config.PayoutDelay())
	if releasable.Sign() == 0 {
		return ErrInvalidPayout
	}
	fee, hostAmount := splitFee(releasable, p.config.FeeBps())

	prev := booking.Clone()
	booking.Balance = new(big.Int).Sub(booking.Balance, releasable)
	payoutType := PayoutTypeFinal
	if booking.Balance.Sign() > 0 {
		booking.Status = BookingPartialPayout
		payoutType = PayoutTypePartial
	} else {
		booking.Status = BookingFullyPaidOut
	}
	if err := p.applySettlement(prev, booking, []payment{
		{to: p.config.Treasury(), amount: fee},
		{to: p.host, amount: hostAmount},
	}); err != nil {
		return err
	}
	return p.forwarder.BookingPaidOut(p.address, bookingID, hostAmount, fee, now, payoutType)
}

// Approve designates the caller's single active delegate, overwriting
// any prior one.
func (p *Property) Approve(caller, delegate common.Address) error {
	return p.state.DelegatePut(p.id, caller, delegate)
}

// Revoke clears the caller's delegate slot unconditionally. Revoking
// when none is set is a no-op.
func (p *Property) Revoke(caller, delegate common.Address) error {
	return p.state.DelegateDelete(p.id, caller)
}

// Delegate returns the host's currently-approved delegate, if any.
func (p *Property) Delegate(host common.Address) (common.Address, bool) {
	return p.state.DelegateGet(p.id, host)
}

// payment is one settlement leg paid out of escrow.
type payment struct {
	to     common.Address
	amount *big.Int
}

// applySettlement persists the booking's settled record, then pays each
// leg out of escrow. When a leg fails it reverses the legs already paid
// and restores the previous record, so a retry observes the original
// booking and balance instead of paying twice.
func (p *Property) applySettlement(prev, next *Booking, payments []payment) error {
	if err := p.state.BookingPut(p.id, next); err != nil {
		return err
	}
	for i, leg := range payments {
		if err := p.ledger.Transfer(next.Token, p.address, leg.to, leg.amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				if undoErr := p.ledger.Transfer(next.Token, payments[j].to, p.address, payments[j].amount); undoErr != nil {
					return fmt.Errorf("%w (reverse payment to %s: %v)", err, payments[j].to.Hex(), undoErr)
				}
			}
			if restoreErr := p.state.BookingPut(p.id, prev); restoreErr != nil {
				return fmt.Errorf("%w (restore booking: %v)", err, restoreErr)
			}
			return err
		}
	}
	return nil
}

func (p *Property) isHostOrDelegate(caller common.Address) bool {
	if caller == p.host {
		return true
	}
	delegate, ok := p.state.DelegateGet(p.id, p.host)
	return ok && delegate == caller
}

// GetBooking returns a copy of the stored booking.
func (p *Property) GetBooking(bookingID string) (*Booking, error) {
	return p.loadBooking(bookingID)
}

// GetBookingIndex returns the booking's position in insertion order.
func (p *Property) GetBookingIndex(bookingID string) (int, error) {
	for i, id := range p.state.BookingIDs(p.id) {
		if id == bookingID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
}

// TotalBooking reports how many bookings this instance has admitted.
func (p *Property) TotalBooking() int {
	return len(p.state.BookingIDs(p.id))
}

// BookingHistory returns up to limit bookings starting at offset, in
// insertion order. Requests past the end yield a short (possibly empty)
// slice rather than an error.
func (p *Property) BookingHistory(offset, limit int) []*Booking {
	ids := p.state.BookingIDs(p.id)
	if offset < 0 || limit <= 0 || offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	history := make([]*Booking, 0, end-offset)
	for _, id := range ids[offset:end] {
		if booking, ok := p.state.BookingGet(p.id, id); ok {
			history = append(history, booking)
		}
	}
	return history
}

func (p *Property) loadBooking(bookingID string) (*Booking, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	booking, ok := p.state.BookingGet(p.id, bookingID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	return booking, nil
}
