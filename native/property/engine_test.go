package property

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bookadot/crypto"
	"bookadot/crypto/eip712"
	"bookadot/native/bank"
)

// --- test doubles ---

type memState struct {
	bookings  map[string]*Booking
	order     []string
	delegates map[common.Address]common.Address
}

func newMemState() *memState {
	return &memState{
		bookings:  make(map[string]*Booking),
		delegates: make(map[common.Address]common.Address),
	}
}

func (s *memState) BookingPut(_ uint64, booking *Booking) error {
	if _, exists := s.bookings[booking.ID]; !exists {
		s.order = append(s.order, booking.ID)
	}
	s.bookings[booking.ID] = booking.Clone()
	return nil
}

func (s *memState) BookingGet(_ uint64, bookingID string) (*Booking, bool) {
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, false
	}
	return booking.Clone(), true
}

func (s *memState) BookingIDs(_ uint64) []string { return s.order }

func (s *memState) DelegatePut(_ uint64, host, delegate common.Address) error {
	s.delegates[host] = delegate
	return nil
}

func (s *memState) DelegateGet(_ uint64, host common.Address) (common.Address, bool) {
	delegate, ok := s.delegates[host]
	return delegate, ok
}

func (s *memState) DelegateDelete(_ uint64, host common.Address) error {
	delete(s.delegates, host)
	return nil
}

type memLedger struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func balKey(token, addr common.Address) string { return token.Hex() + "/" + addr.Hex() }

func (l *memLedger) mint(token, addr common.Address, amount *big.Int) {
	l.balances[balKey(token, addr)] = new(big.Int).Set(amount)
}

func (l *memLedger) approve(token, owner, spender common.Address, amount *big.Int) {
	l.allowances[balKey(token, owner)+"/"+spender.Hex()] = new(big.Int).Set(amount)
}

func (l *memLedger) balanceOf(token, addr common.Address) *big.Int {
	if balance, ok := l.balances[balKey(token, addr)]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

func (l *memLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance := l.balanceOf(token, from)
	if fromBalance.Cmp(amount) < 0 {
		return bank.ErrInsufficientBalance
	}
	l.balances[balKey(token, from)] = fromBalance.Sub(fromBalance, amount)
	l.balances[balKey(token, to)] = new(big.Int).Add(l.balanceOf(token, to), amount)
	return nil
}

func (l *memLedger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	key := balKey(token, owner) + "/" + spender.Hex()
	allowance, ok := l.allowances[key]
	if !ok || allowance.Cmp(amount) < 0 {
		return bank.ErrInsufficientAllowance
	}
	if err := l.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowance, amount)
	return nil
}

type forwardedPayout struct {
	hostAmount     *big.Int
	treasuryAmount *big.Int
	payoutType     uint8
}

type recordingForwarder struct {
	created       []string
	guestCancels  []string
	hostCancels   []string
	payouts       []forwardedPayout
	lastGuestSpan [3]*big.Int
}

func (f *recordingForwarder) BookingCreated(_ common.Address, booking *Booking) error {
	f.created = append(f.created, booking.ID)
	return nil
}

func (f *recordingForwarder) BookingCancelledByGuest(_ common.Address, bookingID string, guestAmount, hostAmount, treasuryAmount *big.Int, _ int64) error {
	f.guestCancels = append(f.guestCancels, bookingID)
	f.lastGuestSpan = [3]*big.Int{guestAmount, hostAmount, treasuryAmount}
	return nil
}

func (f *recordingForwarder) BookingCancelledByHost(_ common.Address, bookingID string, _ *big.Int, _ int64) error {
	f.hostCancels = append(f.hostCancels, bookingID)
	return nil
}

func (f *recordingForwarder) BookingPaidOut(_ common.Address, _ string, hostAmount, treasuryAmount *big.Int, _ int64, payoutType uint8) error {
	f.payouts = append(f.payouts, forwardedPayout{hostAmount: hostAmount, treasuryAmount: treasuryAmount, payoutType: payoutType})
	return nil
}

type stubConfig struct {
	backend     common.Address
	treasury    common.Address
	feeBps      uint32
	payoutDelay int64
	chainID     int64
	tokens      map[common.Address]bool
}

func (c *stubConfig) FeeBps() uint32            { return c.feeBps }
func (c *stubConfig) PayoutDelay() int64        { return c.payoutDelay }
func (c *stubConfig) Treasury() common.Address  { return c.treasury }
func (c *stubConfig) Backend() common.Address   { return c.backend }
func (c *stubConfig) ChainID() int64            { return c.chainID }
func (c *stubConfig) IsTokenWhitelisted(token common.Address) bool {
	return c.tokens[token]
}

// --- fixture ---

type fixture struct {
	property *Property
	state    *memState
	ledger   *memLedger
	fwd      *recordingForwarder
	cfg      *stubConfig
	backend  *crypto.PrivateKey

	guest    common.Address
	host     common.Address
	treasury common.Address
	token    common.Address

	now int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	f := &fixture{
		state:    newMemState(),
		ledger:   newMemLedger(),
		fwd:      &recordingForwarder{},
		backend:  backend,
		guest:    common.HexToAddress("0x100"),
		host:     common.HexToAddress("0x200"),
		treasury: common.HexToAddress("0x300"),
		token:    common.HexToAddress("0x400"),
		now:      500,
	}
	f.cfg = &stubConfig{
		backend:     backend.Address(),
		treasury:    f.treasury,
		feeBps:      500,
		payoutDelay: 100,
		chainID:     1,
		tokens:      map[common.Address]bool{f.token: true, bank.NativeToken: true},
	}
	f.property = NewProperty(1, common.HexToAddress("0x500"), f.host, f.cfg, f.state, f.ledger, f.fwd)
	f.property.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) params(bookingID string) *BookingParameters {
	return &BookingParameters{
		Token:                      f.token,
		BookingID:                  bookingID,
		CheckInTimestamp:           3000,
		CheckOutTimestamp:          4000,
		BookingExpirationTimestamp: 2500,
		BookingAmount:              eth(100),
		CancellationPolicies: []CancellationPolicy{
			{ExpiryTime: 1000, RefundAmount: eth(100)},
			{ExpiryTime: 2000, RefundAmount: eth(50)},
		},
	}
}

func (f *fixture) sign(t *testing.T, params *BookingParameters) []byte {
	t.Helper()
	signature, err := eip712.Sign(params.TypedData(f.cfg.chainID, f.property.Address()), f.backend)
	require.NoError(t, err)
	return signature
}

func (f *fixture) fund(amount *big.Int) {
	f.ledger.mint(f.token, f.guest, amount)
	f.ledger.approve(f.token, f.guest, f.property.Address(), amount)
}

func (f *fixture) book(t *testing.T, bookingID string) *BookingParameters {
	t.Helper()
	params := f.params(bookingID)
	f.fund(params.BookingAmount)
	require.NoError(t, f.property.Book(f.guest, nil, params, f.sign(t, params)))
	return params
}

// --- Book ---

func TestBookEscrowsFundsAndRecordsBooking(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.property.Address()))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.guest).Sign())

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingInProgress, booking.Status)
	require.Equal(t, f.guest, booking.Guest)
	require.Equal(t, eth(100), booking.Amount)
	require.Equal(t, eth(100), booking.Balance)
	require.Equal(t, int64(500), booking.CreatedAt)
	require.Equal(t, []string{"booking-1"}, f.fwd.created)
}

func TestBookNativeTokenRequiresExactValue(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-native")
	params.Token = bank.NativeToken
	f.ledger.mint(bank.NativeToken, f.guest, eth(100))

	err := f.property.Book(f.guest, eth(99), params, f.sign(t, params))
	require.ErrorIs(t, err, ErrInvalidValue)
	err = f.property.Book(f.guest, nil, params, f.sign(t, params))
	require.ErrorIs(t, err, ErrInvalidValue)

	require.NoError(t, f.property.Book(f.guest, eth(100), params, f.sign(t, params)))
	require.Equal(t, eth(100), f.ledger.balanceOf(bank.NativeToken, f.property.Address()))
}

func TestBookRejectsValueOnTokenBooking(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.fund(params.BookingAmount)

	err := f.property.Book(f.guest, eth(1), params, f.sign(t, params))
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestBookRejectsWrongSigner(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.fund(params.BookingAmount)

	rogue, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signature, err := eip712.Sign(params.TypedData(f.cfg.chainID, f.property.Address()), rogue)
	require.NoError(t, err)

	err = f.property.Book(f.guest, nil, params, signature)
	require.ErrorIs(t, err, eip712.ErrUnauthorizedSigner)
	require.Empty(t, f.fwd.created)
}

func TestBookRejectsSignatureForOtherInstance(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.fund(params.BookingAmount)

	signature, err := eip712.Sign(params.TypedData(f.cfg.chainID, common.HexToAddress("0x999")), f.backend)
	require.NoError(t, err)
	require.ErrorIs(t, f.property.Book(f.guest, nil, params, signature), eip712.ErrUnauthorizedSigner)
}

func TestBookRejectsExpiredQuote(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.fund(params.BookingAmount)
	f.now = 2501

	require.ErrorIs(t, f.property.Book(f.guest, nil, params, f.sign(t, params)), ErrBookingExpired)
}

func TestBookAcceptsQuoteAtExpirationInstant(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.fund(params.BookingAmount)
	f.now = 2500

	require.NoError(t, f.property.Book(f.guest, nil, params, f.sign(t, params)))
}

func TestBookRejectsNonWhitelistedToken(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	params.Token = common.HexToAddress("0x666")
	f.ledger.mint(params.Token, f.guest, eth(100))
	f.ledger.approve(params.Token, f.guest, f.property.Address(), eth(100))

	require.ErrorIs(t, f.property.Book(f.guest, nil, params, f.sign(t, params)), ErrTokenNotWhitelisted)
}

func TestBookRejectsDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	params := f.params("booking-1")
	f.fund(params.BookingAmount)
	require.ErrorIs(t, f.property.Book(f.guest, nil, params, f.sign(t, params)), ErrDuplicateBooking)
}

func TestBookWithoutAllowanceLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	params := f.params("booking-1")
	f.ledger.mint(f.token, f.guest, eth(100))

	err := f.property.Book(f.guest, nil, params, f.sign(t, params))
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)
	_, err = f.property.GetBooking("booking-1")
	require.ErrorIs(t, err, ErrBookingNotFound)
}

// --- Cancel ---

func TestCancelBeforeFirstMilestoneRefundsEverything(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	f.now = 999

	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))

	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.guest))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.property.Address()).Sign())
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.treasury).Sign())

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingCancelledByGuest, booking.Status)
	require.Equal(t, 0, booking.Balance.Sign())
}

func TestCancelBetweenMilestonesSplitsRemainder(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	f.now = 1500

	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))

	// Refund 50, remainder 50 splits into 2.5 fee and 47.5 host at
	// 500 bps.
	require.Equal(t, eth(50), f.ledger.balanceOf(f.token, f.guest))
	require.Equal(t, halfEth(5), f.ledger.balanceOf(f.token, f.treasury))
	require.Equal(t, halfEth(95), f.ledger.balanceOf(f.token, f.host))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.property.Address()).Sign())

	require.Equal(t, []string{"booking-1"}, f.fwd.guestCancels)
	require.Equal(t, eth(50), f.fwd.lastGuestSpan[0])
	require.Equal(t, halfEth(95), f.fwd.lastGuestSpan[1])
	require.Equal(t, halfEth(5), f.fwd.lastGuestSpan[2])
}

func TestCancelAfterAllMilestonesRefundsNothing(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	f.now = 2000

	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.guest).Sign())
	require.Equal(t, eth(5), f.ledger.balanceOf(f.token, f.treasury))
	require.Equal(t, eth(95), f.ledger.balanceOf(f.token, f.host))
}

func TestCancelOnlyGuest(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	require.ErrorIs(t, f.property.Cancel(f.host, "booking-1"), ErrNotGuest)
	require.ErrorIs(t, f.property.Cancel(common.HexToAddress("0x777"), "booking-1"), ErrNotGuest)
}

func TestCancelUnknownBooking(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.property.Cancel(f.guest, "missing"), ErrBookingNotFound)
}

func TestCancelTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))
	require.ErrorIs(t, f.property.Cancel(f.guest, "booking-1"), ErrAlreadyFinalized)
}

// --- CancelByHost ---

func TestCancelByHostRefundsFullBalance(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	f.now = 1500 // refund schedule is irrelevant for host cancellation

	require.NoError(t, f.property.CancelByHost(f.host, "booking-1"))
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.guest))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.treasury).Sign())

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingCancelledByHost, booking.Status)
	require.Equal(t, []string{"booking-1"}, f.fwd.hostCancels)
}

func TestCancelByHostViaDelegate(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	delegate := common.HexToAddress("0x888")

	require.ErrorIs(t, f.property.CancelByHost(delegate, "booking-1"), ErrNotHostOrDelegate)

	require.NoError(t, f.property.Approve(f.host, delegate))
	require.NoError(t, f.property.CancelByHost(delegate, "booking-1"))
}

func TestRevokedDelegateLosesAuthority(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	delegate := common.HexToAddress("0x888")

	require.NoError(t, f.property.Approve(f.host, delegate))
	require.NoError(t, f.property.Revoke(f.host, delegate))
	require.ErrorIs(t, f.property.CancelByHost(delegate, "booking-1"), ErrNotHostOrDelegate)
}

func TestApproveOverwritesDelegate(t *testing.T) {
	f := newFixture(t)
	first := common.HexToAddress("0x888")
	second := common.HexToAddress("0x999")

	require.NoError(t, f.property.Approve(f.host, first))
	require.NoError(t, f.property.Approve(f.host, second))

	delegate, ok := f.property.Delegate(f.host)
	require.True(t, ok)
	require.Equal(t, second, delegate)

	f.book(t, "booking-1")
	require.ErrorIs(t, f.property.CancelByHost(first, "booking-1"), ErrNotHostOrDelegate)
	require.NoError(t, f.property.CancelByHost(second, "booking-1"))
}

func TestCancelByHostOnFinalizedBooking(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))
	require.ErrorIs(t, f.property.CancelByHost(f.host, "booking-1"), ErrAlreadyFinalized)
}

// --- Payout ---

func TestPayoutBeforeDelayElapsed(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	f.now = 1099 // first milestone expired but delay not yet elapsed
	require.ErrorIs(t, f.property.Payout("booking-1"), ErrInvalidPayout)
}

func TestPayoutPartialThenFinal(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	// First milestone elapsed exactly at expiry+delay.
	f.now = 1100
	require.NoError(t, f.property.Payout("booking-1"))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingPartialPayout, booking.Status)
	require.Equal(t, eth(50), booking.Balance)
	require.Equal(t, halfEth(5), f.ledger.balanceOf(f.token, f.treasury))
	require.Equal(t, halfEth(95), f.ledger.balanceOf(f.token, f.host))

	require.Len(t, f.fwd.payouts, 1)
	require.Equal(t, PayoutTypePartial, f.fwd.payouts[0].payoutType)

	// Nothing new releases until the second milestone elapses.
	require.ErrorIs(t, f.property.Payout("booking-1"), ErrInvalidPayout)

	f.now = 2100
	require.NoError(t, f.property.Payout("booking-1"))

	booking, err = f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingFullyPaidOut, booking.Status)
	require.Equal(t, 0, booking.Balance.Sign())
	require.Equal(t, eth(5), f.ledger.balanceOf(f.token, f.treasury))
	require.Equal(t, eth(95), f.ledger.balanceOf(f.token, f.host))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.property.Address()).Sign())

	require.Len(t, f.fwd.payouts, 2)
	require.Equal(t, PayoutTypeFinal, f.fwd.payouts[1].payoutType)
}

func TestPayoutAllAtOnceAfterLastMilestone(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	f.now = 2100
	require.NoError(t, f.property.Payout("booking-1"))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingFullyPaidOut, booking.Status)
	require.Len(t, f.fwd.payouts, 1)
	require.Equal(t, PayoutTypeFinal, f.fwd.payouts[0].payoutType)
}

func TestPayoutOnFinalizedBooking(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")
	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))

	f.now = 2100
	require.ErrorIs(t, f.property.Payout("booking-1"), ErrAlreadyFinalized)
}

func TestPayoutUnknownBooking(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.property.Payout("missing"), ErrBookingNotFound)
}

// --- settlement failure recovery ---

type flakyState struct {
	*memState
	failPuts int
}

func (s *flakyState) BookingPut(propertyID uint64, booking *Booking) error {
	if s.failPuts > 0 {
		s.failPuts--
		return errors.New("disk failure")
	}
	return s.memState.BookingPut(propertyID, booking)
}

type flakyLedger struct {
	*memLedger
	failTo common.Address
}

func (l *flakyLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if to == l.failTo && amount.Sign() > 0 {
		return errors.New("transfer failure")
	}
	return l.memLedger.Transfer(token, from, to, amount)
}

func TestBookRefundsEscrowWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyState{memState: f.state, failPuts: 1}
	prop := NewProperty(1, f.property.Address(), f.host, f.cfg, flaky, f.ledger, f.fwd)
	prop.SetNowFunc(func() int64 { return f.now })

	params := f.params("booking-1")
	f.fund(params.BookingAmount)
	require.Error(t, prop.Book(f.guest, nil, params, f.sign(t, params)))

	// The pulled funds must come back; nothing may stay at the
	// instance address and no booking may be recorded.
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.guest))
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.property.Address()).Sign())
	require.Equal(t, 0, prop.TotalBooking())
	require.Empty(t, f.fwd.created)

	// A retry with a fresh allowance succeeds.
	f.fund(params.BookingAmount)
	require.NoError(t, prop.Book(f.guest, nil, params, f.sign(t, params)))
}

func TestCancelRestoresBookingWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	flaky := &flakyLedger{memLedger: f.ledger, failTo: f.treasury}
	prop := NewProperty(1, f.property.Address(), f.host, f.cfg, f.state, flaky, f.fwd)
	prop.SetNowFunc(func() int64 { return f.now })
	f.now = 1500

	require.Error(t, prop.Cancel(f.guest, "booking-1"))

	// The refund leg that went through before the treasury leg failed
	// must be reversed, and the booking must read as untouched.
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.guest).Sign())
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.treasury).Sign())
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.host).Sign())
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.property.Address()))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingInProgress, booking.Status)
	require.Equal(t, eth(100), booking.Balance)
	require.Empty(t, f.fwd.guestCancels)

	// A retry over a healthy ledger settles normally, exactly once.
	require.NoError(t, f.property.Cancel(f.guest, "booking-1"))
	require.Equal(t, eth(50), f.ledger.balanceOf(f.token, f.guest))
	require.Equal(t, halfEth(5), f.ledger.balanceOf(f.token, f.treasury))
}

func TestCancelByHostRestoresBookingWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	flaky := &flakyLedger{memLedger: f.ledger, failTo: f.guest}
	prop := NewProperty(1, f.property.Address(), f.host, f.cfg, f.state, flaky, f.fwd)
	prop.SetNowFunc(func() int64 { return f.now })

	require.Error(t, prop.CancelByHost(f.host, "booking-1"))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingInProgress, booking.Status)
	require.Equal(t, eth(100), booking.Balance)
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.property.Address()))

	require.NoError(t, f.property.CancelByHost(f.host, "booking-1"))
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.guest))
}

func TestPayoutPersistFailureMovesNoFunds(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	flaky := &flakyState{memState: f.state, failPuts: 1}
	prop := NewProperty(1, f.property.Address(), f.host, f.cfg, flaky, f.ledger, f.fwd)
	prop.SetNowFunc(func() int64 { return f.now })
	f.now = 1100

	require.Error(t, prop.Payout("booking-1"))

	// The record write comes before any transfer, so a failed write
	// leaves every balance where it was.
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.treasury).Sign())
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.host).Sign())
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.property.Address()))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingInProgress, booking.Status)
	require.Equal(t, eth(100), booking.Balance)
	require.Empty(t, f.fwd.payouts)

	// The retry releases the tranche exactly once.
	require.NoError(t, f.property.Payout("booking-1"))
	require.Equal(t, halfEth(95), f.ledger.balanceOf(f.token, f.host))
	require.Len(t, f.fwd.payouts, 1)
}

func TestPayoutRestoresBookingWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	f.book(t, "booking-1")

	flaky := &flakyLedger{memLedger: f.ledger, failTo: f.host}
	prop := NewProperty(1, f.property.Address(), f.host, f.cfg, f.state, flaky, f.fwd)
	prop.SetNowFunc(func() int64 { return f.now })
	f.now = 1100

	require.Error(t, prop.Payout("booking-1"))

	// The treasury leg preceding the failed host leg is reversed.
	require.Equal(t, 0, f.ledger.balanceOf(f.token, f.treasury).Sign())
	require.Equal(t, eth(100), f.ledger.balanceOf(f.token, f.property.Address()))

	booking, err := f.property.GetBooking("booking-1")
	require.NoError(t, err)
	require.Equal(t, BookingInProgress, booking.Status)
	require.Equal(t, eth(100), booking.Balance)

	require.NoError(t, f.property.Payout("booking-1"))
	require.Equal(t, halfEth(5), f.ledger.balanceOf(f.token, f.treasury))
}

// --- reads ---

func TestBookingIndexAndHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.book(t, fmt.Sprintf("booking-%d", i))
	}

	require.Equal(t, 5, f.property.TotalBooking())

	index, err := f.property.GetBookingIndex("booking-3")
	require.NoError(t, err)
	require.Equal(t, 3, index)

	_, err = f.property.GetBookingIndex("missing")
	require.ErrorIs(t, err, ErrBookingNotFound)

	history := f.property.BookingHistory(1, 2)
	require.Len(t, history, 2)
	require.Equal(t, "booking-1", history[0].ID)
	require.Equal(t, "booking-2", history[1].ID)

	// Short tail and out-of-range requests degrade gracefully.
	require.Len(t, f.property.BookingHistory(4, 10), 1)
	require.Empty(t, f.property.BookingHistory(5, 1))
	require.Empty(t, f.property.BookingHistory(-1, 1))
	require.Empty(t, f.property.BookingHistory(0, 0))
}
