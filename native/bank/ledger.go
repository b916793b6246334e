// Package bank keeps per-token balances and spending allowances for the
// escrow core. Property instances pull guest funds through it on booking
// and push refunds and payouts back out of escrow.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the sentinel address denoting the chain's native
// currency. Native bookings carry the amount as transaction value and
// need no allowance.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrNegativeAmount        = errors.New("bank: negative amount")
)

type ledgerState interface {
	BalanceGet(token, addr common.Address) (*big.Int, error)
	BalancePut(token, addr common.Address, amount *big.Int) error
	AllowanceGet(token, owner, spender common.Address) (*big.Int, error)
	AllowancePut(token, owner, spender common.Address, amount *big.Int) error
}

// Ledger wires token accounting to a state backend.
type Ledger struct {
	state ledgerState
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// BalanceOf reports the current balance, treating absent entries as zero.
func (l *Ledger) BalanceOf(token, addr common.Address) (*big.Int, error) {
	balance, err := l.state.BalanceGet(token, addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(balance), nil
}

// Mint credits freshly issued funds to an account. Used by the daemon
// genesis step and by tests as a faucet.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	balance, err := l.state.BalanceGet(token, to)
	if err != nil {
		return err
	}
	return l.state.BalancePut(token, to, new(big.Int).Add(cloneAmount(balance), amt))
}

// Approve sets the spender's allowance over the owner's funds,
// overwriting any prior value.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return ErrNegativeAmount
	}
	return l.state.AllowancePut(token, owner, spender, amt)
}

// Allowance reports the spender's remaining allowance over the owner's
// funds.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	allowance, err := l.state.AllowanceGet(token, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneAmount(allowance), nil
}

// Transfer moves funds between accounts. Zero amounts are a no-op.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.state.BalanceGet(token, from)
	if err != nil {
		return err
	}
	fromBalance = cloneAmount(fromBalance)
	if fromBalance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, need %s", ErrInsufficientBalance, from.Hex(), fromBalance, token.Hex(), amt)
	}
	toBalance, err := l.state.BalanceGet(token, to)
	if err != nil {
		return err
	}
	if err := l.state.BalancePut(token, from, new(big.Int).Sub(fromBalance, amt)); err != nil {
		return err
	}
	return l.state.BalancePut(token, to, new(big.Int).Add(cloneAmount(toBalance), amt))
}

// TransferFrom moves the owner's funds under the spender's allowance,
// decrementing the allowance by the transferred amount.
func (l *Ledger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	allowance, err := l.state.AllowanceGet(token, owner, spender)
	if err != nil {
		return err
	}
	allowance = cloneAmount(allowance)
	if allowance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: spender %s allowed %s of %s, need %s", ErrInsufficientAllowance, spender.Hex(), allowance, token.Hex(), amt)
	}
	if err := l.Transfer(token, owner, to, amt); err != nil {
		return err
	}
	return l.state.AllowancePut(token, owner, spender, new(big.Int).Sub(allowance, amt))
}
