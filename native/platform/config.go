// Package platform holds the shared configuration every property escrow
// instance consults: fee rate, payout delay, treasury, token whitelist
// and the authorized backend signer. The configuration is an explicit
// dependency injected at construction, mutable only through owner-gated
// updates.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const maxFeeBps = 10_000

var (
	ErrNotOwner  = errors.New("platform: caller is not the owner")
	ErrFeeBps    = errors.New("platform: fee bps out of range")
	ErrZeroParam = errors.New("platform: zero-value parameter")
)

type Config struct {
	mu sync.RWMutex

	address     common.Address
	owner       common.Address
	backend     common.Address
	treasury    common.Address
	feeBps      uint32
	payoutDelay int64
	chainID     int64
	tokens      map[common.Address]struct{}
}

// NewConfig builds the platform configuration. The backend signer
// defaults to the owner until updated, matching the original deployment
// flow where the deployer key doubles as the first backend.
func NewConfig(address, owner, treasury common.Address, feeBps uint32, payoutDelay int64, chainID int64, tokens []common.Address) (*Config, error) {
	if feeBps > maxFeeBps {
		return nil, fmt.Errorf("%w: %d", ErrFeeBps, feeBps)
	}
	if owner == (common.Address{}) || treasury == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner and treasury required", ErrZeroParam)
	}
	if payoutDelay < 0 {
		return nil, fmt.Errorf("platform: negative payout delay %d", payoutDelay)
	}
	cfg := &Config{
		address:     address,
		owner:       owner,
		backend:     owner,
		treasury:    treasury,
		feeBps:      feeBps,
		payoutDelay: payoutDelay,
		chainID:     chainID,
		tokens:      make(map[common.Address]struct{}, len(tokens)),
	}
	for _, token := range tokens {
		cfg.tokens[token] = struct{}{}
	}
	return cfg, nil
}

func (c *Config) Address() common.Address { return c.address }
func (c *Config) Owner() common.Address   { return c.owner }
func (c *Config) ChainID() int64          { return c.chainID }

func (c *Config) Backend() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

func (c *Config) Treasury() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.treasury
}

func (c *Config) FeeBps() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeBps
}

func (c *Config) PayoutDelay() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.payoutDelay
}

func (c *Config) IsTokenWhitelisted(token common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tokens[token]
	return ok
}

// IsOwnerOrBackend is the capability check gating factory deployments.
func (c *Config) IsOwnerOrBackend(caller common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return caller == c.owner || caller == c.backend
}

func (c *Config) requireOwner(caller common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	return nil
}

// UpdateBackend rotates the authorized backend signer.
func (c *Config) UpdateBackend(caller, backend common.Address) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if backend == (common.Address{}) {
		return fmt.Errorf("%w: backend", ErrZeroParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = backend
	return nil
}

func (c *Config) UpdateTreasury(caller, treasury common.Address) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if treasury == (common.Address{}) {
		return fmt.Errorf("%w: treasury", ErrZeroParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treasury = treasury
	return nil
}

func (c *Config) UpdateFeeBps(caller common.Address, feeBps uint32) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if feeBps > maxFeeBps {
		return fmt.Errorf("%w: %d", ErrFeeBps, feeBps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeBps = feeBps
	return nil
}

func (c *Config) UpdatePayoutDelay(caller common.Address, delay int64) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if delay < 0 {
		return fmt.Errorf("platform: negative payout delay %d", delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payoutDelay = delay
	return nil
}

func (c *Config) AddToken(caller, token common.Address) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token] = struct{}{}
	return nil
}

// RemoveToken delists a token. Existing bookings settle regardless; the
// whitelist only gates new bookings.
func (c *Config) RemoveToken(caller, token common.Address) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}

// Tokens returns a copy of the whitelist.
func (c *Config) Tokens() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]common.Address, 0, len(c.tokens))
	for token := range c.tokens {
		out = append(out, token)
	}
	return out
}
